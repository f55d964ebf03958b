package publish

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/afero"

	"postalgic/syncpub"
)

// UploadProgress is called after each uploaded file.
type UploadProgress func(rel string, n, total int, size int64)

// Publisher uploads a generated site to its destination.
type Publisher interface {
	Name() string
	// Upload copies every file under dir on fsys to the destination.
	// sync/manifest.json is always written last.
	Upload(ctx context.Context, fsys afero.Fs, dir string, progress UploadProgress) error
	// FetchExistingManifest returns the currently published manifest, or
	// nil when nothing has been published yet.
	FetchExistingManifest(ctx context.Context) ([]byte, error)
}

// PublisherFactory returns the publisher of a blog.
type PublisherFactory func(blogID string) (Publisher, error)

var manifestRel = path.Join(syncpub.SyncDir, syncpub.ManifestPath)

// listFiles returns every regular file under dir as slash-separated paths
// relative to dir, sorted, with the sync manifest moved to the end.
func listFiles(fsys afero.Fs, dir string) ([]string, error) {
	var files []string
	err := afero.Walk(fsys, dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, serr.Wrap(err, "failed to list generated files")
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i] == manifestRel {
			return false
		}
		if files[j] == manifestRel {
			return true
		}
		return files[i] < files[j]
	})
	return files, nil
}

// uploadEach reads each file and hands it to put in order. Cancellation is
// honored between files only: a put in flight runs on a context that is
// not canceled with ctx.
func uploadEach(ctx context.Context, fsys afero.Fs, dir string, progress UploadProgress,
	put func(ctx context.Context, rel string, data []byte) error) error {

	files, err := listFiles(fsys, dir)
	if err != nil {
		return err
	}

	inflight := context.WithoutCancel(ctx)
	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := afero.ReadFile(fsys, path.Join(dir, rel))
		if err != nil {
			return serr.Wrap(err, "failed to read generated file", "path", rel)
		}
		if err := put(inflight, rel, data); err != nil {
			return serr.Wrap(err, "failed to upload", "path", rel)
		}
		if progress != nil {
			progress(rel, i+1, len(files), int64(len(data)))
		}
	}
	return nil
}

// isSyncPath reports whether rel lies in the sync directory.
func isSyncPath(rel string) bool {
	return strings.HasPrefix(rel, syncpub.SyncDir+"/")
}

// pruneStaleSync removes destination sync files that the upload did not
// write, so every published sync path has a manifest entry. It runs after
// the manifest is in place and is not interrupted by cancellation. A
// failed listing is logged and leaves the stale files for the next publish.
func pruneStaleSync(ctx context.Context, uploaded map[string]bool,
	list func(ctx context.Context) ([]string, error),
	remove func(ctx context.Context, rel string) error) (int, error) {

	ctx = context.WithoutCancel(ctx)
	existing, err := list(ctx)
	if err != nil {
		logger.LogErr(err, "failed to list published sync files, stale files kept")
		return 0, nil
	}

	removed := 0
	for _, rel := range existing {
		if !isSyncPath(rel) || uploaded[rel] {
			continue
		}
		if err := remove(ctx, rel); err != nil {
			return removed, serr.Wrap(err, "failed to remove stale sync file", "path", rel)
		}
		removed++
		logger.Debug("Removed stale sync file", "path", rel)
	}
	return removed, nil
}
