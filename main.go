package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/afero"

	"postalgic/config"
	"postalgic/models"
	"postalgic/publish"
	"postalgic/syncpub"
	"postalgic/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.LogErr(err, "failed to load configuration")
		os.Exit(1)
	}
	logger.SetLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.LogErr(err, "invalid configuration")
		os.Exit(1)
	}

	tokens, err := web.NewTokens(cfg.JWTSecret)
	if err != nil {
		logger.LogErr(err, "failed to initialize tokens")
		os.Exit(1)
	}

	// postalgic token [subject] prints an API token and exits
	if len(os.Args) > 1 && os.Args[1] == "token" {
		subject := "cli"
		if len(os.Args) > 2 {
			subject = os.Args[2]
		}
		tok, err := tokens.Generate(subject, web.DefaultTokenTTL)
		if err != nil {
			logger.LogErr(err, "failed to generate token")
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	if err := run(cfg, tokens); err != nil {
		logger.LogErr(err, "server stopped")
		os.Exit(1)
	}
}

func run(cfg *config.Config, tokens *web.Tokens) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return serr.Wrap(err, "failed to create data directory", "dir", cfg.DataDir)
	}
	store, err := models.OpenStore(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	publishers, err := newPublishers(cfg)
	if err != nil {
		return err
	}

	orch := &publish.Orchestrator{
		Store:       store,
		Credentials: syncpub.StaticCredentials{"": cfg.SyncPassword},
		Site:        publish.HTMLSite{},
		Publishers:  publishers,
		Fetchers:    syncpub.HTTPFetchers(cfg.FetchTimeout),
		Locker:      publish.NewLocker(cfg.LockDir()),
		WorkFs:      afero.NewOsFs(),
		WorkDir:     cfg.WorkDir(),
	}

	srv := web.NewServer(rweb.ServerOptions{
		Address: cfg.Address,
		Verbose: cfg.LogLevel == "debug",
	}, web.Deps{Store: store, Orch: orch, Tokens: tokens})

	return web.Run(srv, cfg.Address)
}

// newPublishers returns the factory for the configured destination. Each
// blog is published under its own id below the configured root.
func newPublishers(cfg *config.Config) (publish.PublisherFactory, error) {
	switch cfg.Publisher {
	case config.PublisherDirectory:
		fs := afero.NewOsFs()
		return func(blogID string) (publish.Publisher, error) {
			return &publish.DirectoryPublisher{Fs: fs, Root: filepath.Join(cfg.PublishDir, blogID)}, nil
		}, nil

	case config.PublisherS3:
		return func(blogID string) (publish.Publisher, error) {
			return publish.NewS3Publisher(context.Background(), publish.S3Config{
				Bucket:    cfg.S3.Bucket,
				Region:    cfg.S3.Region,
				Endpoint:  cfg.S3.Endpoint,
				AccessKey: cfg.S3.AccessKey,
				SecretKey: cfg.S3.SecretKey,
				Prefix:    path.Join(cfg.S3.Prefix, blogID),
			})
		}, nil

	case config.PublisherSFTP:
		return func(blogID string) (publish.Publisher, error) {
			return publish.NewSFTPPublisher(publish.SFTPConfig{
				Host:       cfg.SFTP.Host,
				Port:       cfg.SFTP.Port,
				User:       cfg.SFTP.User,
				Password:   cfg.SFTP.Password,
				KeyFile:    cfg.SFTP.KeyFile,
				KnownHosts: cfg.SFTP.KnownHosts,
				Path:       path.Join(cfg.SFTP.Path, blogID),
			}), nil
		}, nil

	case config.PublisherGit:
		return func(blogID string) (publish.Publisher, error) {
			return publish.NewGitPublisher(publish.GitConfig{
				URL:    cfg.Git.URL,
				Branch: cfg.Git.Branch,
				User:   cfg.Git.User,
				Token:  cfg.Git.Token,
				Author: cfg.Git.Author,
				Email:  cfg.Git.Email,
				Subdir: blogID,
			}), nil
		}, nil
	}
	return nil, serr.New("unknown publisher", "publisher", cfg.Publisher)
}
