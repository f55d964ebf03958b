package publish

import (
	"context"
	"errors"
	"os"
	"path"

	"github.com/rohanthewiz/serr"
	"github.com/spf13/afero"
)

// DirectoryPublisher copies the site into a directory, e.g. one served by a
// web server on the same machine.
type DirectoryPublisher struct {
	Fs   afero.Fs
	Root string
}

func (p *DirectoryPublisher) Name() string { return "directory" }

func (p *DirectoryPublisher) Upload(ctx context.Context, fsys afero.Fs, dir string, progress UploadProgress) error {
	uploaded := make(map[string]bool)
	err := uploadEach(ctx, fsys, dir, progress, func(_ context.Context, rel string, data []byte) error {
		dst := path.Join(p.Root, rel)
		if err := p.Fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
			return err
		}
		uploaded[rel] = true
		return afero.WriteFile(p.Fs, dst, data, 0o644)
	})
	if err != nil {
		return err
	}

	_, err = pruneStaleSync(ctx, uploaded,
		func(context.Context) ([]string, error) { return listFiles(p.Fs, p.Root) },
		func(_ context.Context, rel string) error { return p.Fs.Remove(path.Join(p.Root, rel)) },
	)
	return err
}

func (p *DirectoryPublisher) FetchExistingManifest(ctx context.Context) ([]byte, error) {
	b, err := afero.ReadFile(p.Fs, path.Join(p.Root, manifestRel))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to read published manifest")
	}
	return b, nil
}
