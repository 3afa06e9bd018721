// Package server implements the lmirror smart server: a read-only HTTP
// front end that lets a receiver fetch a mirror set's metadata, journals,
// file bodies, and replay streams over the network (spec §6 "HTTP smart
// server").
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/desertwitch/lmirror/internal/mirrorset"
	"github.com/desertwitch/lmirror/internal/transport"
	"github.com/desertwitch/lmirror/internal/watcher"
)

// SetSource resolves a mirror set by name, or returns false if the server
// does not know it (404).
type SetSource func(name string) (*mirrorset.MirrorSet, bool)

// Server is the smart server's HTTP handler.
type Server struct {
	Sets     SetSource
	Watchers map[string]*watcher.Watcher
	Logger   *slog.Logger

	router *httprouter.Router
}

// New builds a Server routed per spec §6's endpoint table.
func New(sets SetSource, watchers map[string]*watcher.Watcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{Sets: sets, Watchers: watchers, Logger: logger, router: httprouter.New()}

	s.router.GET("/.lmirror/sets/:name/format", s.withLogging(s.handleSetFormat))
	s.router.GET("/.lmirror/sets/:name/set.conf", s.withLogging(s.handleSetConf))
	s.router.GET("/metadata/:name/metadata.conf", s.withLogging(s.handleMetadataConf))
	s.router.GET("/metadata/:name/journals/:id", s.withLogging(s.handleJournal))
	s.router.GET("/content/:name/*path", s.withLogging(s.handleContent))
	s.router.GET("/stream/:name/:from/:to", s.withLogging(s.handleStream))
	s.router.GET("/changes/:name", s.withLogging(s.handleChanges))
	s.router.GET("/updated/:name", s.withLogging(s.handleUpdated))

	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// withLogging wraps a handler with a per-request id and structured access
// log, matching the teacher's slog-based logging idiom.
func (s *Server) withLogging(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		requestID := uuid.NewString()
		logger := s.Logger.With("request_id", requestID, "path", r.URL.Path)

		logger.Info("request received")
		h(w, r.WithContext(withLogger(r.Context(), logger)), ps)
	}
}

type loggerKey struct{}

func withLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}

	return slog.Default()
}

func (s *Server) lookupSet(w http.ResponseWriter, r *http.Request, name string) (*mirrorset.MirrorSet, bool) {
	if name == "" || strings.Contains(name, "..") {
		http.NotFound(w, r)

		return nil, false
	}

	ms, ok := s.Sets(name)
	if !ok {
		http.NotFound(w, r)

		return nil, false
	}

	return ms, true
}

// cleanContentPath rejects path traversal and leading slashes (spec §6:
// "Path traversal (..) and unknown set names must produce 404").
func cleanContentPath(raw string) (string, bool) {
	p := strings.TrimPrefix(raw, "/")
	if p == "" {
		return "", true
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}

	return p, true
}

func (s *Server) handleSetFormat(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ms, ok := s.lookupSet(w, r, ps.ByName("name"))
	if !ok {
		return
	}

	serveTransportFile(w, r, ms.Base, setConfRelPath(ms.Name, "format"))
}

func (s *Server) handleSetConf(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ms, ok := s.lookupSet(w, r, ps.ByName("name"))
	if !ok {
		return
	}

	serveTransportFile(w, r, ms.Base, setConfRelPath(ms.Name, "set.conf"))
}

func (s *Server) handleMetadataConf(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ms, ok := s.lookupSet(w, r, ps.ByName("name"))
	if !ok {
		return
	}

	serveTransportFile(w, r, ms.Base, metaRelPath(ms.Name, "metadata.conf"))
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ms, ok := s.lookupSet(w, r, ps.ByName("name"))
	if !ok {
		return
	}

	idParam := ps.ByName("id")

	relpath := metaRelPath(ms.Name, "journals/"+idParam)
	serveTransportFile(w, r, ms.Base, relpath)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ms, ok := s.lookupSet(w, r, ps.ByName("name"))
	if !ok {
		return
	}

	relpath, ok := cleanContentPath(ps.ByName("path"))
	if !ok {
		http.NotFound(w, r)

		return
	}

	serveTransportFile(w, r, ms.Content, relpath)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ms, ok := s.lookupSet(w, r, ps.ByName("name"))
	if !ok {
		return
	}

	from, err := strconv.Atoi(ps.ByName("from"))
	if err != nil {
		http.Error(w, "bad from id", http.StatusBadRequest)

		return
	}

	to, err := strconv.Atoi(ps.ByName("to"))
	if err != nil {
		http.Error(w, "bad to id", http.StatusBadRequest)

		return
	}

	gen, err := ms.GetGenerator(r.Context(), from, to)
	if err != nil {
		loggerFrom(r.Context()).Error("build generator failed", "error", err)
		http.Error(w, "failed to build replay stream", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/x-lmirror")
	w.WriteHeader(http.StatusOK)

	if err := gen.Generate(r.Context(), w); err != nil {
		loggerFrom(r.Context()).Error("stream generation failed", "error", err)
	}
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")
	if _, ok := s.lookupSet(w, r, name); !ok {
		return
	}

	wch, ok := s.Watchers[name]
	if !ok {
		writeJSON(w, []string{})

		return
	}

	writeJSON(w, wch.Changes(r.Context()))
}

func (s *Server) handleUpdated(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")
	if _, ok := s.lookupSet(w, r, name); !ok {
		return
	}

	wch, ok := s.Watchers[name]
	if !ok {
		w.WriteHeader(http.StatusNoContent)

		return
	}

	oldest, err := strconv.ParseFloat(r.URL.Query().Get("oldest"), 64)
	if err != nil {
		http.Error(w, "bad oldest timestamp", http.StatusBadRequest)

		return
	}

	wch.Updated(r.Context(), oldest)
	w.WriteHeader(http.StatusNoContent)
}

func setConfRelPath(name, leaf string) string {
	return ".lmirror/sets/" + name + "/" + leaf
}

func metaRelPath(name, leaf string) string {
	return ".lmirror/metadata/" + name + "/" + leaf
}

func serveTransportFile(w http.ResponseWriter, r *http.Request, tr transport.Transport, relpath string) {
	reader, err := tr.GetReader(r.Context(), relpath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, transport.ErrNotLocal) {
			http.NotFound(w, r)

			return
		}

		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")

	if _, err := io.Copy(w, reader); err != nil {
		loggerFrom(r.Context()).Error("failed to write response body", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
