package publish

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/afero"

	"postalgic/models"
	"postalgic/syncpub"
)

// ============================================================================
// Publish Orchestrator
//
// A publish runs Idle -> SyncingDown -> Generating -> Uploading ->
// UpdatingLocalState -> Done, and can fail from any step. The local
// SyncState is only written after every file, manifest included, was
// uploaded. A failure or cancellation before that leaves it untouched, so
// the next publish regenerates everything that was not committed.
//
// Pulls, publishes and update checks of the same blog are serialized by the
// Locker. A second request while one runs fails fast with ErrSyncInProgress.
// ============================================================================

// Phase is the step a publish is in.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseSyncingDown        Phase = "syncing_down"
	PhaseGenerating         Phase = "generating"
	PhaseUploading          Phase = "uploading"
	PhaseUpdatingLocalState Phase = "updating_local_state"
	PhaseDone               Phase = "done"
	PhaseFailed             Phase = "failed"
)

// ProgressFunc receives every phase change and progress message.
type ProgressFunc func(phase Phase, message string)

// ErrSyncDisabled is returned by Pull for a blog that has sync turned off.
var ErrSyncDisabled = errors.New("sync is not enabled for this blog")

// Orchestrator runs pulls, publishes and imports against a local store.
type Orchestrator struct {
	Store       syncpub.LocalStore
	Credentials syncpub.Credentials
	Site        SiteGenerator
	Publishers  PublisherFactory
	Fetchers    syncpub.FetcherFactory
	Locker      *Locker
	// WorkFs and WorkDir hold the generated site until it is uploaded.
	WorkFs  afero.Fs
	WorkDir string

	mu     sync.Mutex
	phases map[string]Phase
}

type PublishOptions struct {
	// Force skips the pull before publishing. Remote changes made since the
	// last pull are then overwritten.
	Force bool
	// Password overrides Credentials.
	Password   string
	OnProgress ProgressFunc
}

type PullOptions struct {
	Password   string
	OnProgress ProgressFunc
}

// PublishResult reports a completed publish.
type PublishResult struct {
	BlogID    string              `json:"blogId"`
	Version   int64               `json:"version"` // 0 when sync is disabled
	Files     int                 `json:"files"`
	Bytes     int64               `json:"bytes"`
	Publisher string              `json:"publisher"`
	Pull      *syncpub.SyncResult `json:"pull,omitempty"`
	Duration  time.Duration       `json:"duration"`
}

// Phase returns the current phase of blogID.
func (o *Orchestrator) Phase(blogID string) Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.phases[blogID]; ok {
		return p
	}
	return PhaseIdle
}

func (o *Orchestrator) setPhase(blogID string, p Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phases == nil {
		o.phases = make(map[string]Phase)
	}
	o.phases[blogID] = p
}

func (o *Orchestrator) reporter(blogID string, fn ProgressFunc) func(Phase, string) {
	return func(p Phase, msg string) {
		o.setPhase(blogID, p)
		logger.Debug("Sync progress", "blog_id", blogID, "phase", string(p), "message", msg)
		if fn != nil {
			fn(p, msg)
		}
	}
}

func (o *Orchestrator) password(ctx context.Context, blogID, override string) (string, error) {
	if override != "" || o.Credentials == nil {
		return override, nil
	}
	pw, err := o.Credentials.SyncPassword(ctx, blogID)
	if err != nil {
		return "", serr.Wrap(err, "failed to look up sync password", "blog_id", blogID)
	}
	return pw, nil
}

func (o *Orchestrator) puller(report func(Phase, string), phase Phase) *syncpub.Puller {
	return &syncpub.Puller{
		Store:      o.Store,
		NewFetcher: o.Fetchers,
		OnProgress: func(msg string) { report(phase, msg) },
	}
}

// Publish pulls remote changes, regenerates the site and its sync
// directory, uploads everything and records the new local sync state.
func (o *Orchestrator) Publish(ctx context.Context, blogID string, opts PublishOptions) (res *PublishResult, err error) {
	release, err := o.Locker.TryAcquire(blogID)
	if err != nil {
		return nil, err
	}
	defer release()

	report := o.reporter(blogID, opts.OnProgress)
	start := time.Now()
	defer func() {
		if err != nil {
			report(PhaseFailed, err.Error())
			logger.LogErr(err, "Publish failed", "blog_id", blogID)
		}
	}()

	res = &PublishResult{BlogID: blogID}
	state, err := o.Store.SyncState(ctx, blogID)
	if err != nil {
		return nil, err
	}
	password, err := o.password(ctx, blogID, opts.Password)
	if err != nil {
		return nil, err
	}

	pub, err := o.Publishers(blogID)
	if err != nil {
		return nil, err
	}
	res.Publisher = pub.Name()

	// Syncing down. Nothing to pull before the first publish.
	var base int64
	if state.SyncEnabled {
		report(PhaseSyncingDown, "Checking published site")
		live, err := o.publishedVersion(ctx, pub)
		if err != nil {
			return nil, err
		}
		base = live

		switch {
		case opts.Force:
			logger.Info("Force publish, skipping pull", "blog_id", blogID, "live_version", live)
		case live > 0 && state.RemoteURL != "":
			report(PhaseSyncingDown, "Pulling remote changes")
			pull, err := o.puller(report, PhaseSyncingDown).PullChanges(ctx, blogID, password)
			if err != nil {
				return nil, err
			}
			if err := pull.Err(); err != nil {
				// Publishing over files we could not absorb would lose them
				return nil, err
			}
			res.Pull = pull
			if state, err = o.Store.SyncState(ctx, blogID); err != nil {
				return nil, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Generating
	report(PhaseGenerating, "Generating site")
	snap, err := o.Store.Snapshot(ctx, blogID)
	if err != nil {
		return nil, err
	}

	dir := path.Join(o.WorkDir, blogID+"-"+uuid.NewString())
	if err := o.WorkFs.MkdirAll(dir, 0o755); err != nil {
		return nil, serr.Wrap(err, "failed to create work directory")
	}
	defer func() {
		if rmErr := o.WorkFs.RemoveAll(dir); rmErr != nil {
			logger.LogErr(rmErr, "failed to remove work directory", "dir", dir)
		}
	}()

	if err := o.Site.Build(ctx, snap, o.WorkFs, dir); err != nil {
		return nil, serr.Wrap(err, "failed to build site", "blog_id", blogID)
	}

	var gen *syncpub.GenerateResult
	if state.SyncEnabled {
		gen, err = syncpub.Generate(snap, state, password, syncpub.GenerateOptions{BaseVersion: base})
		if err != nil {
			return nil, err
		}
		if err := gen.WriteTo(o.WorkFs, dir); err != nil {
			return nil, err
		}
		res.Version = gen.Manifest.SyncVersion
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Uploading
	report(PhaseUploading, "Uploading to "+pub.Name())
	err = pub.Upload(ctx, o.WorkFs, dir, func(rel string, n, total int, size int64) {
		res.Files = n
		res.Bytes += size
		report(PhaseUploading, fmt.Sprintf("Uploaded file %d of %d (%s)", n, total, humanize.Bytes(uint64(size))))
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, syncpub.NewError(syncpub.KindUploadFailed, "", pub.Name()+" upload failed", err)
	}

	// Updating local state: everything is uploaded, so the commit must not
	// be abandoned on cancellation
	report(PhaseUpdatingLocalState, "Recording published state")
	now := models.Timestamp(time.Now())
	next := state.Clone()
	next.LastPublishedAt = now
	if gen != nil {
		next.LastSyncedVersion = gen.Manifest.SyncVersion
		next.LastSyncedAt = now
		next.LocalFileHashes = gen.FileHashes
	}
	commitCtx := context.WithoutCancel(ctx)
	err = o.Store.Update(commitCtx, func(tx models.Tx) error {
		return tx.SaveSyncState(commitCtx, next)
	})
	if err != nil {
		return nil, syncpub.NewError(syncpub.KindStorageTransactionFailed, "", "failed to record published state", err)
	}

	res.Duration = time.Since(start)
	report(PhaseDone, fmt.Sprintf("Published %d files (%s)", res.Files, humanize.Bytes(uint64(res.Bytes))))
	logger.Info("Published", "blog_id", blogID, "publisher", pub.Name(), "version", res.Version,
		"files", res.Files, "duration", res.Duration.String())
	return res, nil
}

// publishedVersion returns the syncVersion currently live at the
// destination, or 0 when there is none.
func (o *Orchestrator) publishedVersion(ctx context.Context, pub Publisher) (int64, error) {
	b, err := pub.FetchExistingManifest(ctx)
	if err != nil {
		return 0, syncpub.NewError(syncpub.KindUploadFailed, syncpub.ManifestPath, "failed to read published manifest", err)
	}
	if b == nil {
		return 0, nil
	}
	m, err := syncpub.ParseManifest(b)
	if err != nil {
		logger.LogErr(err, "Ignoring unreadable published manifest", "publisher", pub.Name())
		return 0, nil
	}
	return m.SyncVersion, nil
}

// Pull brings a sync-enabled blog up to date with its remote.
func (o *Orchestrator) Pull(ctx context.Context, blogID string, opts PullOptions) (res *syncpub.SyncResult, err error) {
	release, err := o.Locker.TryAcquire(blogID)
	if err != nil {
		return nil, err
	}
	defer release()

	report := o.reporter(blogID, opts.OnProgress)
	defer func() {
		if err != nil {
			report(PhaseFailed, err.Error())
		} else {
			report(PhaseDone, res.Summary())
		}
	}()

	state, err := o.Store.SyncState(ctx, blogID)
	if err != nil {
		return nil, err
	}
	if !state.SyncEnabled {
		return nil, ErrSyncDisabled
	}
	password, err := o.password(ctx, blogID, opts.Password)
	if err != nil {
		return nil, err
	}

	report(PhaseSyncingDown, "Pulling remote changes")
	return o.puller(report, PhaseSyncingDown).PullChanges(ctx, blogID, password)
}

// CheckForUpdates reports what a pull would bring without changing anything.
func (o *Orchestrator) CheckForUpdates(ctx context.Context, blogID string) (*syncpub.UpdateCheck, error) {
	release, err := o.Locker.TryAcquire(blogID)
	if err != nil {
		return nil, err
	}
	defer release()

	state, err := o.Store.SyncState(ctx, blogID)
	if err != nil {
		return nil, err
	}
	if !state.SyncEnabled {
		return nil, ErrSyncDisabled
	}
	return o.puller(o.reporter(blogID, nil), PhaseIdle).CheckForUpdates(ctx, blogID)
}

// Import creates a local blog from the site published at sourceURL.
func (o *Orchestrator) Import(ctx context.Context, sourceURL string, opts PullOptions) (*syncpub.ImportResult, error) {
	// The blog id is unknown until the manifest is read, so the source is the key
	release, err := o.Locker.TryAcquire("import-" + syncpub.Digest([]byte(sourceURL))[:16])
	if err != nil {
		return nil, err
	}
	defer release()

	report := func(p Phase, msg string) {
		if opts.OnProgress != nil {
			opts.OnProgress(p, msg)
		}
	}
	password, err := o.password(ctx, "", opts.Password)
	if err != nil {
		return nil, err
	}
	res, err := o.puller(report, PhaseSyncingDown).ImportFromScratch(ctx, sourceURL, password)
	if err != nil {
		report(PhaseFailed, err.Error())
		return nil, err
	}
	report(PhaseDone, fmt.Sprintf("Imported %s", res.BlogName))
	return res, nil
}
