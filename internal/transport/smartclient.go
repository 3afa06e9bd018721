package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SmartClient is a read-only Transport that speaks directly to an lmirror
// smart server's full route table (spec §6 "HTTP smart server"), rather than
// just its content endpoint like HTTP does. A mirror set opened remotely
// (mirrorset.OpenRemote) uses one SmartClient as both its Base and Content
// transport: the server's routes for the set/metadata namespace and for the
// content tree don't share one path prefix, so SmartClient rewrites each
// relative path to the right route before issuing the request.
type SmartClient struct {
	Client  *http.Client
	BaseURL string // e.g. "http://host:8337"
	Name    string
}

// NewSmartClient returns a SmartClient addressing the named set served at
// baseURL.
func NewSmartClient(client *http.Client, baseURL, name string) *SmartClient {
	if client == nil {
		client = http.DefaultClient
	}

	return &SmartClient{
		Client:  client,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Name:    name,
	}
}

// route maps a set-base-relative path onto the smart server's URL space.
// The set/metadata namespace and the content tree are routed under distinct
// prefixes (spec §6): metadata.conf/journals live under
// ".lmirror/metadata/<name>/..." on disk but "/metadata/<name>/..." on the
// wire, set.conf/content.conf/the keyring keep their on-disk prefix, and
// everything else is a content-tree path addressed through "/content/<name>/...".
func (s *SmartClient) route(relpath string) string {
	metaPrefix := ".lmirror/metadata/" + s.Name + "/"
	setPrefix := ".lmirror/sets/" + s.Name + "/"

	switch {
	case relpath == ".lmirror/metadata/"+s.Name:
		return s.BaseURL + "/metadata/" + s.Name
	case strings.HasPrefix(relpath, metaPrefix):
		return s.BaseURL + "/metadata/" + s.Name + "/" + strings.TrimPrefix(relpath, metaPrefix)
	case relpath == ".lmirror/sets/"+s.Name:
		return s.BaseURL + "/.lmirror/sets/" + s.Name
	case strings.HasPrefix(relpath, setPrefix):
		return s.BaseURL + "/.lmirror/sets/" + s.Name + "/" + strings.TrimPrefix(relpath, setPrefix)
	default:
		return s.BaseURL + "/content/" + s.Name + "/" + relpath
	}
}

func (s *SmartClient) GetReader(ctx context.Context, p string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.route(p), nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %q: %w", p, err)
	}

	resp, err := s.Client.Do(req)
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

func (s *SmartClient) ListDir(context.Context, string) ([]string, error) {
	return nil, errors.New("smart client transport does not support directory listing")
}

func (s *SmartClient) Stat(ctx context.Context, p string) (FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.route(p), nil)
	if err != nil {
		return FileInfo{}, fmt.Errorf("build HEAD request for %q: %w", p, err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %q: %w", p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return FileInfo{}, fmt.Errorf("stat %q: %w", p, ErrNotLocal)
	}

	if resp.StatusCode != http.StatusOK {
		return FileInfo{}, fmt.Errorf("stat %q: unexpected status %d", p, resp.StatusCode)
	}

	return FileInfo{Size: resp.ContentLength}, nil
}

func (s *SmartClient) PutWriter(context.Context, string) (io.WriteCloser, error) {
	return nil, ErrReadOnly
}

func (s *SmartClient) Mkdir(context.Context, string) error                 { return ErrReadOnly }
func (s *SmartClient) Rmdir(context.Context, string) error                 { return ErrReadOnly }
func (s *SmartClient) Delete(context.Context, string) error                { return ErrReadOnly }
func (s *SmartClient) Rename(context.Context, string, string) error        { return ErrReadOnly }
func (s *SmartClient) CreatePrefix(context.Context, string) error          { return ErrReadOnly }
func (s *SmartClient) SetModTime(context.Context, string, time.Time) error { return ErrReadOnly }

func (s *SmartClient) LocalAbspath(string) (string, error) {
	return "", ErrNotLocal
}

func (s *SmartClient) Readlink(context.Context, string) (string, error) {
	return "", ErrNoSymlink
}

func (s *SmartClient) Symlink(context.Context, string, string) error {
	return ErrReadOnly
}
