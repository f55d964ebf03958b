package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Configuration
//
// Settings come from POSTALGIC_* environment variables. A .env file in the
// working directory, or the file named by POSTALGIC_ENV_FILE, is loaded
// first; variables already set in the environment win over the file.
// ============================================================================

const (
	PublisherDirectory = "directory"
	PublisherS3        = "s3"
	PublisherSFTP      = "sftp"
	PublisherGit       = "git"
)

const (
	defaultFetchTimeout = 20 * time.Second
	minJWTSecretLen     = 32
)

type S3 struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

type SFTP struct {
	Host       string
	Port       int
	User       string
	Password   string
	KeyFile    string
	KnownHosts string
	Path       string
}

type Git struct {
	URL    string
	Branch string
	User   string
	Token  string
	Author string
	Email  string
}

// Config is the whole server configuration.
type Config struct {
	DataDir      string
	Address      string
	LogLevel     string
	JWTSecret    string
	SyncPassword string        // fallback password for every blog, optional
	FetchTimeout time.Duration // per request
	Publisher    string
	PublishDir   string // directory publisher root

	S3   S3
	SFTP SFTP
	Git  Git
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	envFile := os.Getenv("POSTALGIC_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, serr.Wrap(err, "failed to load env file", "file", envFile)
	}

	cfg := &Config{
		DataDir:      env("POSTALGIC_DATA_DIR", "./data"),
		Address:      env("POSTALGIC_ADDRESS", ":8000"),
		LogLevel:     env("POSTALGIC_LOG_LEVEL", "info"),
		JWTSecret:    os.Getenv("POSTALGIC_JWT_SECRET"),
		SyncPassword: os.Getenv("POSTALGIC_SYNC_PASSWORD"),
		FetchTimeout: defaultFetchTimeout,
		Publisher:    env("POSTALGIC_PUBLISHER", PublisherDirectory),
		S3: S3{
			Bucket:    os.Getenv("POSTALGIC_S3_BUCKET"),
			Region:    env("POSTALGIC_S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("POSTALGIC_S3_ENDPOINT"),
			AccessKey: os.Getenv("POSTALGIC_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("POSTALGIC_S3_SECRET_KEY"),
			Prefix:    os.Getenv("POSTALGIC_S3_PREFIX"),
		},
		SFTP: SFTP{
			Host:       os.Getenv("POSTALGIC_SFTP_HOST"),
			Port:       22,
			User:       os.Getenv("POSTALGIC_SFTP_USER"),
			Password:   os.Getenv("POSTALGIC_SFTP_PASSWORD"),
			KeyFile:    os.Getenv("POSTALGIC_SFTP_KEY_FILE"),
			KnownHosts: os.Getenv("POSTALGIC_SFTP_KNOWN_HOSTS"),
			Path:       os.Getenv("POSTALGIC_SFTP_PATH"),
		},
		Git: Git{
			URL:    os.Getenv("POSTALGIC_GIT_URL"),
			Branch: env("POSTALGIC_GIT_BRANCH", "main"),
			User:   os.Getenv("POSTALGIC_GIT_USER"),
			Token:  os.Getenv("POSTALGIC_GIT_TOKEN"),
			Author: env("POSTALGIC_GIT_AUTHOR", "postalgic"),
			Email:  os.Getenv("POSTALGIC_GIT_EMAIL"),
		},
	}
	cfg.PublishDir = env("POSTALGIC_PUBLISH_DIR", filepath.Join(cfg.DataDir, "public"))

	if s := os.Getenv("POSTALGIC_FETCH_TIMEOUT"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, serr.Wrap(err, "invalid POSTALGIC_FETCH_TIMEOUT value, expected duration like '20s'")
		}
		cfg.FetchTimeout = d
	}
	if s := os.Getenv("POSTALGIC_SFTP_PORT"); s != "" {
		port, err := strconv.Atoi(s)
		if err != nil {
			return nil, serr.Wrap(err, "invalid POSTALGIC_SFTP_PORT value")
		}
		cfg.SFTP.Port = port
	}

	return cfg, nil
}

// Validate fails fast on settings that would only break mid-publish.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < minJWTSecretLen {
		return serr.New("POSTALGIC_JWT_SECRET is required and must be at least 32 characters")
	}
	if c.FetchTimeout < time.Second || c.FetchTimeout > 2*time.Minute {
		return serr.New("POSTALGIC_FETCH_TIMEOUT must be between 1s and 2m")
	}

	switch c.Publisher {
	case PublisherDirectory:
		if c.PublishDir == "" {
			return serr.New("POSTALGIC_PUBLISH_DIR is required for the directory publisher")
		}
	case PublisherS3:
		if c.S3.Bucket == "" {
			return serr.New("POSTALGIC_S3_BUCKET is required for the s3 publisher")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			return serr.New("POSTALGIC_S3_ACCESS_KEY and POSTALGIC_S3_SECRET_KEY must be set together")
		}
	case PublisherSFTP:
		if c.SFTP.Host == "" {
			return serr.New("POSTALGIC_SFTP_HOST is required for the sftp publisher")
		}
		if c.SFTP.User == "" {
			return serr.New("POSTALGIC_SFTP_USER is required for the sftp publisher")
		}
		if c.SFTP.Password == "" && c.SFTP.KeyFile == "" {
			return serr.New("POSTALGIC_SFTP_PASSWORD or POSTALGIC_SFTP_KEY_FILE is required for the sftp publisher")
		}
	case PublisherGit:
		if c.Git.URL == "" {
			return serr.New("POSTALGIC_GIT_URL is required for the git publisher")
		}
	default:
		return serr.New("unknown POSTALGIC_PUBLISHER, expected directory, s3, sftp or git", "publisher", c.Publisher)
	}
	return nil
}

// DBPath is the DuckDB file inside the data directory.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "postalgic.db") }

// LockDir holds the per-blog lock files.
func (c *Config) LockDir() string { return filepath.Join(c.DataDir, "locks") }

// WorkDir holds sites being generated.
func (c *Config) WorkDir() string { return filepath.Join(c.DataDir, "work") }

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
