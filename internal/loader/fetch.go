package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupportedScheme is returned for URLs no fetcher can handle.
var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// Fetcher copies the resource at rawURL into the file dest and returns its size.
// Implementations must leave dest untouched on failure.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dest string) (int64, error)
}

// HTTPFetcher downloads http and https URLs.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("failed to fetch %s: unexpected status %s", rawURL, resp.Status)
	}
	return writeFile(dest, resp.Body)
}

// FileFetcher copies local files, given as file:// URLs or plain paths.
type FileFetcher struct{}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(_ context.Context, rawURL, dest string) (int64, error) {
	path := rawURL
	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s: %w", rawURL, err)
		}
		path = u.Path
	}
	src, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()
	return writeFile(dest, src)
}

// SchemeFetcher dispatches on the URL scheme.
type SchemeFetcher struct {
	HTTP Fetcher
	File Fetcher
}

// NewSchemeFetcher serves http(s) over the network and everything else from disk.
func NewSchemeFetcher(timeout time.Duration) *SchemeFetcher {
	return &SchemeFetcher{HTTP: NewHTTPFetcher(timeout), File: FileFetcher{}}
}

// Fetch implements Fetcher.
func (f *SchemeFetcher) Fetch(ctx context.Context, rawURL, dest string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.HTTP.Fetch(ctx, rawURL, dest)
	case "file", "":
		return f.File.Fetch(ctx, rawURL, dest)
	default:
		return 0, fmt.Errorf("%s: %w", u.Scheme, ErrUnsupportedScheme)
	}
}

// writeFile streams r into a temp file next to dest and renames it into place,
// so readers never see a partial file.
func writeFile(dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to move %s into place: %w", dest, err)
	}
	return n, nil
}
