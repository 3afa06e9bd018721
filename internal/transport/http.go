package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// HTTP is a read-only Transport backed by an lmirror smart server's content
// endpoint (`GET /content/<name>/<path>`, spec §6). Nothing in this
// repository constructs one; remote sets are read through SmartClient.
// Listing/mutating operations are not supported, since the smart server
// only ever serves read-only snapshots.
type HTTP struct {
	Client   *http.Client
	BaseURL  string // e.g. "http://host:port/content/myset"
}

// NewHTTP returns an HTTP transport rooted at baseURL.
func NewHTTP(client *http.Client, baseURL string) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTP{Client: client, BaseURL: baseURL}
}

func (h *HTTP) url(p string) string {
	return h.BaseURL + "/" + path.Join(p)
}

func (h *HTTP) GetReader(ctx context.Context, p string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url(p), nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %q: %w", p, err)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", p, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()

		return nil, fmt.Errorf("fetch %q: %w", p, ErrNotLocal)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return nil, fmt.Errorf("fetch %q: unexpected status %d", p, resp.StatusCode)
	}

	return resp.Body, nil
}

func (h *HTTP) ListDir(context.Context, string) ([]string, error) {
	return nil, errors.New("http transport does not support directory listing")
}

func (h *HTTP) Stat(ctx context.Context, p string) (FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.url(p), nil)
	if err != nil {
		return FileInfo{}, fmt.Errorf("build HEAD request for %q: %w", p, err)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %q: %w", p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FileInfo{}, fmt.Errorf("stat %q: unexpected status %d", p, resp.StatusCode)
	}

	return FileInfo{Size: resp.ContentLength}, nil
}

func (h *HTTP) PutWriter(context.Context, string) (io.WriteCloser, error) {
	return nil, ErrReadOnly
}

func (h *HTTP) Mkdir(context.Context, string) error                     { return ErrReadOnly }
func (h *HTTP) Rmdir(context.Context, string) error                     { return ErrReadOnly }
func (h *HTTP) Delete(context.Context, string) error                    { return ErrReadOnly }
func (h *HTTP) Rename(context.Context, string, string) error            { return ErrReadOnly }
func (h *HTTP) CreatePrefix(context.Context, string) error              { return ErrReadOnly }
func (h *HTTP) SetModTime(context.Context, string, time.Time) error     { return ErrReadOnly }

func (h *HTTP) LocalAbspath(string) (string, error) {
	return "", ErrNotLocal
}

func (h *HTTP) Readlink(context.Context, string) (string, error) {
	return "", ErrNoSymlink
}

func (h *HTTP) Symlink(context.Context, string, string) error {
	return ErrReadOnly
}

// ParseBaseURL validates that rawURL is well-formed. It has no caller in
// this repository.
func ParseBaseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url %q: %w", rawURL, err)
	}

	return u, nil
}
