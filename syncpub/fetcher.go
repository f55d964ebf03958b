package syncpub

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/spf13/afero"
)

// Fetcher reads one file of a published sync directory. p is relative to
// the /sync/ prefix.
type Fetcher interface {
	Fetch(ctx context.Context, p string) ([]byte, error)
}

// DefaultFetchTimeout bounds every network request.
const DefaultFetchTimeout = 20 * time.Second

// HTTPFetcher reads {baseURL}/sync/{path} over plain HTTP(S) GET.
type HTTPFetcher struct {
	baseURL string
	client  *req.Client
}

// NewHTTPFetcher returns a fetcher for the site published at baseURL.
// A zero timeout means DefaultFetchTimeout.
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: req.C().
			SetTimeout(timeout).
			SetUserAgent("postalgic-sync/" + FormatVersion),
	}
}

// URL returns the absolute URL of a sync path.
func (f *HTTPFetcher) URL(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return f.baseURL + "/" + SyncDir + "/" + strings.Join(segments, "/")
}

func (f *HTTPFetcher) Fetch(ctx context.Context, p string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(f.URL(p))
	if err != nil {
		return nil, classifyNetworkError(ctx, p, err)
	}
	if !resp.IsSuccessState() {
		return nil, NewError(KindNetworkUnreachable, p, "unexpected HTTP status "+strconv.Itoa(resp.GetStatusCode()), nil)
	}
	return resp.Bytes(), nil
}

// classifyNetworkError separates timeouts from every other transport
// failure. Cancellation by the caller is returned as-is.
func classifyNetworkError(ctx context.Context, p string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewError(KindNetworkTimeout, p, "request timed out", err)
	}
	return NewError(KindNetworkUnreachable, p, "request failed", err)
}

// DirFetcher reads a sync directory from a filesystem, e.g. a local copy
// of a published site.
type DirFetcher struct {
	Fs   afero.Fs
	Root string // the site root; files are read from Root/sync
}

func (f DirFetcher) Fetch(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := afero.ReadFile(f.Fs, path.Join(f.Root, SyncDir, p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewError(KindNetworkUnreachable, p, "file not found", err)
		}
		return nil, NewError(KindNetworkUnreachable, p, "failed to read file", err)
	}
	return b, nil
}

// FetchManifest downloads and parses manifest.json.
func FetchManifest(ctx context.Context, f Fetcher) (*Manifest, error) {
	b, err := f.Fetch(ctx, ManifestPath)
	if err != nil {
		return nil, err
	}
	return ParseManifest(b)
}
