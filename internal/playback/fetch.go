package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Fetcher retrieves the raw bytes of a clip resource.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// NewFetcher picks an HTTP or directory fetcher from a base location.
func NewFetcher(base string) Fetcher {
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		return &HTTPFetcher{Base: base}
	}
	return &FileFetcher{Dir: base}
}

// HTTPFetcher GETs <Base>/<ref>. No client timeout is applied.
type HTTPFetcher struct {
	Base   string
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	u, err := url.JoinPath(f.Base, strings.Split(ref, "/")...)
	if err != nil {
		return nil, fmt.Errorf("build url for %s: %w", ref, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// FileFetcher reads <Dir>/<ref> from disk.
type FileFetcher struct {
	Dir string
}

func (f *FileFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(f.Dir, filepath.FromSlash(ref)))
}
