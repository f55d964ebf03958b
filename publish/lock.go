package publish

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"postalgic/syncpub"
)

// ErrSyncInProgress is returned when another pull or publish holds the
// lock of the same blog.
var ErrSyncInProgress = errors.New("a sync or publish is already running for this blog")

var safeLockName = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Locker serializes sync operations per blog. An in-process set guards
// goroutines of this server; a flock file under dir guards other processes
// sharing the same data directory. Different blogs never contend.
type Locker struct {
	dir  string
	mu   sync.Mutex
	held map[string]bool
}

// NewLocker returns a Locker keeping lock files in dir. An empty dir
// disables the cross-process lock.
func NewLocker(dir string) *Locker {
	return &Locker{dir: dir, held: make(map[string]bool)}
}

// TryAcquire takes the lock for key without waiting. The returned release
// func is safe to call more than once.
func (l *Locker) TryAcquire(key string) (release func(), err error) {
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	l.held[key] = true
	l.mu.Unlock()

	unhold := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}

	var fl *flock.Flock
	if l.dir != "" {
		if err := os.MkdirAll(l.dir, 0o755); err != nil {
			unhold()
			return nil, serr.Wrap(err, "failed to create lock directory")
		}
		fl = flock.New(filepath.Join(l.dir, lockFileName(key)))
		locked, err := fl.TryLock()
		if err != nil {
			unhold()
			return nil, serr.Wrap(err, "failed to take lock file")
		}
		if !locked {
			unhold()
			return nil, ErrSyncInProgress
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if fl != nil {
				if err := fl.Unlock(); err != nil {
					logger.LogErr(err, "failed to release lock file", "key", key)
				}
			}
			unhold()
		})
	}, nil
}

// Held reports whether this process holds the lock for key.
func (l *Locker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

func lockFileName(key string) string {
	if safeLockName.MatchString(key) {
		return key + ".lock"
	}
	return syncpub.Digest([]byte(key))[:32] + ".lock"
}
