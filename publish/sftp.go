package publish

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"postalgic/syncpub"
)

// SFTPConfig locates a remote directory reachable over SSH.
type SFTPConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	KeyFile    string // private key, preferred over Password when set
	KnownHosts string // known_hosts file; empty skips host key checking
	Path       string
	Timeout    time.Duration
}

// SFTPPublisher uploads a site over SFTP.
type SFTPPublisher struct {
	cfg    SFTPConfig
	client *sftp.Client // set when the session is owned by the caller
}

func NewSFTPPublisher(cfg SFTPConfig) *SFTPPublisher {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SFTPPublisher{cfg: cfg}
}

// NewSFTPPublisherWithClient publishes under root through an open session.
// The publisher never closes client.
func NewSFTPPublisherWithClient(client *sftp.Client, root string) *SFTPPublisher {
	return &SFTPPublisher{cfg: SFTPConfig{Path: root}, client: client}
}

func (p *SFTPPublisher) Name() string { return "sftp" }

// session returns an SFTP client and the func that releases it.
func (p *SFTPPublisher) session(ctx context.Context) (*sftp.Client, func(), error) {
	if p.client != nil {
		return p.client, func() {}, nil
	}
	sshClient, client, err := p.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, func() {
		client.Close()
		sshClient.Close()
	}, nil
}

func (p *SFTPPublisher) dial(ctx context.Context) (*ssh.Client, *sftp.Client, error) {
	var auth []ssh.AuthMethod
	if p.cfg.KeyFile != "" {
		pem, err := os.ReadFile(p.cfg.KeyFile)
		if err != nil {
			return nil, nil, serr.Wrap(err, "failed to read SSH key")
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, nil, serr.Wrap(err, "failed to parse SSH key")
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if p.cfg.Password != "" {
		auth = append(auth, ssh.Password(p.cfg.Password))
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if p.cfg.KnownHosts != "" {
		cb, err := knownhosts.New(p.cfg.KnownHosts)
		if err != nil {
			return nil, nil, serr.Wrap(err, "failed to load known hosts")
		}
		hostKey = cb
	} else {
		logger.Debug("SFTP host key checking disabled", "host", p.cfg.Host)
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	dialer := net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, serr.Wrap(err, "failed to connect", "addr", addr)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            p.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         p.cfg.Timeout,
	})
	if err != nil {
		conn.Close()
		return nil, nil, serr.Wrap(err, "SSH handshake failed", "addr", addr)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, serr.Wrap(err, "failed to start SFTP session")
	}
	return sshClient, client, nil
}

func (p *SFTPPublisher) Upload(ctx context.Context, fsys afero.Fs, dir string, progress UploadProgress) error {
	client, release, err := p.session(ctx)
	if err != nil {
		return err
	}
	defer release()

	made := make(map[string]bool)
	uploaded := make(map[string]bool)
	err = uploadEach(ctx, fsys, dir, progress, func(_ context.Context, rel string, data []byte) error {
		dst := path.Join(p.cfg.Path, rel)
		if d := path.Dir(dst); !made[d] {
			if err := client.MkdirAll(d); err != nil {
				return err
			}
			made[d] = true
		}

		// Write to a temp name and rename so readers never see a partial file
		tmp := dst + ".tmp"
		f, err := client.Create(tmp)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if err := client.PosixRename(tmp, dst); err != nil {
			return err
		}
		uploaded[rel] = true
		return nil
	})
	if err != nil {
		return err
	}

	_, err = pruneStaleSync(ctx, uploaded,
		func(context.Context) ([]string, error) { return p.listSync(client) },
		func(_ context.Context, rel string) error { return client.Remove(path.Join(p.cfg.Path, rel)) },
	)
	return err
}

// listSync walks the remote sync directory and returns file paths
// relative to the site root.
func (p *SFTPPublisher) listSync(client *sftp.Client) ([]string, error) {
	var rels []string
	var walk func(rel string) error
	walk = func(rel string) error {
		infos, err := client.ReadDir(path.Join(p.cfg.Path, rel))
		if err != nil {
			return err
		}
		for _, info := range infos {
			child := path.Join(rel, info.Name())
			if info.IsDir() {
				if err := walk(child); err != nil {
					return err
				}
				continue
			}
			rels = append(rels, child)
		}
		return nil
	}

	if err := walk(syncpub.SyncDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return rels, nil
}

func (p *SFTPPublisher) FetchExistingManifest(ctx context.Context) ([]byte, error) {
	client, release, err := p.session(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	f, err := client.Open(path.Join(p.cfg.Path, manifestRel))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || os.IsNotExist(err) {
			return nil, nil
		}
		return nil, serr.Wrap(err, "failed to open published manifest")
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, serr.Wrap(err, "failed to read published manifest")
	}
	return b, nil
}
