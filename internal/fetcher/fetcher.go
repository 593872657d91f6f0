// Package fetcher downloads census files over HTTP and FTP and reads the
// CSV, JSON and ZIP payloads they arrive in.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads remote files.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Router dispatches downloads to the fetcher registered for the URL scheme.
type Router struct {
	schemes map[string]Fetcher
}

// NewRouter routes http and https to h and ftp to f. Either may be nil.
func NewRouter(h *HTTPFetcher, f *FTPFetcher) *Router {
	r := &Router{schemes: make(map[string]Fetcher)}
	if h != nil {
		r.schemes["http"] = h
		r.schemes["https"] = h
	}
	if f != nil {
		r.schemes["ftp"] = f
	}
	return r
}

func (r *Router) route(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	f, ok := r.schemes[u.Scheme]
	if !ok {
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
	return f, nil
}

// Download implements Fetcher.
func (r *Router) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f, err := r.route(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, rawURL)
}

// DownloadToFile implements Fetcher.
func (r *Router) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	f, err := r.route(rawURL)
	if err != nil {
		return 0, err
	}
	return f.DownloadToFile(ctx, rawURL, path)
}

// EnsureFile downloads rawURL to path unless path already exists. The file
// is written under a temporary name and renamed, so an interrupted download
// never leaves a partial file at path. Reports whether a download happened.
func EnsureFile(ctx context.Context, f Fetcher, rawURL, path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		zap.L().Debug("fetcher: using existing file", zap.String("path", path))
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, eris.Wrap(err, "fetcher: create directory")
	}

	tmp := path + ".part"
	n, err := f.DownloadToFile(ctx, rawURL, tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return false, eris.Wrapf(err, "fetcher: download %s", rawURL)
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, eris.Wrap(err, "fetcher: rename download")
	}
	zap.L().Info("fetcher: downloaded",
		zap.String("url", rawURL),
		zap.String("path", path),
		zap.Int64("bytes", n),
	)
	return true, nil
}

// writeBody copies body into a new file at path.
func writeBody(body io.Reader, path string) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	n, err := io.Copy(file, body)
	if err != nil {
		_ = file.Close()
		return n, eris.Wrap(err, "write file")
	}
	return n, eris.Wrap(file.Close(), "close file")
}
