package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/afero"
)

// GitConfig describes a git repository that hosts the site, e.g. a GitHub
// Pages branch.
type GitConfig struct {
	URL    string
	Branch string
	User   string
	Token  string
	Author string
	Email  string
	Subdir string // site root inside the repository
}

// GitPublisher commits the site to a branch and pushes it.
type GitPublisher struct {
	cfg GitConfig
}

func NewGitPublisher(cfg GitConfig) *GitPublisher {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Author == "" {
		cfg.Author = "postalgic"
	}
	return &GitPublisher{cfg: cfg}
}

func (p *GitPublisher) Name() string { return "git" }

func (p *GitPublisher) auth() transport.AuthMethod {
	if p.cfg.Token == "" {
		return nil
	}
	user := p.cfg.User
	if user == "" {
		user = "git" // any non-empty user works with token auth
	}
	return &githttp.BasicAuth{Username: user, Password: p.cfg.Token}
}

func (p *GitPublisher) branchRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(p.cfg.Branch)
}

// checkout clones the branch into dir, or initializes a fresh repository
// pointing at the remote when the remote has no commits yet.
func (p *GitPublisher) checkout(ctx context.Context, dir string) (*git.Repository, error) {
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           p.cfg.URL,
		Auth:          p.auth(),
		ReferenceName: p.branchRef(),
		SingleBranch:  true,
		Depth:         1,
	})
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return nil, serr.Wrap(err, "failed to clone", "url", p.cfg.URL)
	}

	logger.Info("Remote repository is empty, initializing", "url", p.cfg.URL)
	if err := os.RemoveAll(dir); err != nil {
		return nil, serr.Wrap(err, "failed to reset checkout dir")
	}
	repo, err = git.PlainInit(dir, false)
	if err != nil {
		return nil, serr.Wrap(err, "failed to init repository")
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: git.DefaultRemoteName, URLs: []string{p.cfg.URL}}); err != nil {
		return nil, serr.Wrap(err, "failed to add remote")
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, p.branchRef())); err != nil {
		return nil, serr.Wrap(err, "failed to point HEAD at branch")
	}
	return repo, nil
}

func (p *GitPublisher) Upload(ctx context.Context, fsys afero.Fs, dir string, progress UploadProgress) error {
	tmp, err := os.MkdirTemp("", "postalgic-git-")
	if err != nil {
		return serr.Wrap(err, "failed to create checkout dir")
	}
	defer os.RemoveAll(tmp)

	repo, err := p.checkout(ctx, tmp)
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return serr.Wrap(err, "failed to open worktree")
	}

	siteRoot := path.Join("/", p.cfg.Subdir)
	checkoutFs := afero.NewBasePathFs(afero.NewOsFs(), tmp)

	uploaded := make(map[string]bool)
	err = uploadEach(ctx, fsys, dir, progress, func(_ context.Context, rel string, data []byte) error {
		dst := path.Join(siteRoot, rel)
		if err := checkoutFs.MkdirAll(path.Dir(dst), 0o755); err != nil {
			return err
		}
		uploaded[rel] = true
		return afero.WriteFile(checkoutFs, dst, data, 0o644)
	})
	if err != nil {
		return err
	}

	// Stale sync files are removed through the worktree so the removal is staged
	_, err = pruneStaleSync(ctx, uploaded,
		func(context.Context) ([]string, error) { return listFiles(checkoutFs, siteRoot) },
		func(_ context.Context, rel string) error {
			_, err := wt.Remove(path.Join(p.cfg.Subdir, rel))
			return err
		},
	)
	if err != nil {
		return err
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return serr.Wrap(err, "failed to stage site")
	}

	msg := fmt.Sprintf("Publish %d files", len(uploaded))
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: p.cfg.Author, Email: p.cfg.Email, When: time.Now()},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		logger.Info("Site unchanged, nothing to push", "url", p.cfg.URL)
		return nil
	}
	if err != nil {
		return serr.Wrap(err, "failed to commit site")
	}

	ref := p.branchRef()
	err = repo.PushContext(context.WithoutCancel(ctx), &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       p.auth(),
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return serr.Wrap(err, "failed to push", "url", p.cfg.URL, "branch", p.cfg.Branch)
	}

	logger.Info("Pushed site", "url", p.cfg.URL, "branch", p.cfg.Branch, "files", len(uploaded))
	return nil
}

// FetchExistingManifest shallow-clones the branch into memory and reads the
// manifest from its head commit.
func (p *GitPublisher) FetchExistingManifest(ctx context.Context) ([]byte, error) {
	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:           p.cfg.URL,
		Auth:          p.auth(),
		ReferenceName: p.branchRef(),
		SingleBranch:  true,
		Depth:         1,
	})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) || errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to clone", "url", p.cfg.URL)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, serr.Wrap(err, "failed to resolve HEAD")
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, serr.Wrap(err, "failed to load head commit")
	}
	f, err := commit.File(path.Join(p.cfg.Subdir, manifestRel))
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to find published manifest")
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, serr.Wrap(err, "failed to read published manifest")
	}
	return []byte(contents), nil
}
