// Package admin serves the operator API: remote health snapshots, manual endpoint overrides
// and recent transactions.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xff16/relay"
)

// Registry gives access to the remotes of a running gateway.
type Registry interface {
	Remotes() []*relay.Remote
	Remote(name string) (*relay.Remote, bool)
}

// History returns recent ended transactions.
type History interface {
	Recent(limit int) []relay.Event
}

type Server struct {
	http *http.Server

	registry Registry
	history  History
	cfg      *relay.Config

	log *zap.Logger
}

type Option func(*Server)

func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithConfig exposes cfg on GET /config.
func WithConfig(cfg *relay.Config) Option {
	return func(s *Server) {
		s.cfg = cfg
	}
}

func NewServer(cfg relay.AdminConfig, registry Registry, log *zap.Logger, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		log:      log,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Timeout.Std(),
		WriteTimeout: cfg.Timeout.Std(),
	}

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /remotes", s.listRemotes)
	mux.HandleFunc("GET /remotes/{name}", s.getRemote)
	mux.HandleFunc("POST /remotes/{name}/{action}", s.setStatus)
	mux.HandleFunc("GET /transactions", s.transactions)
	mux.HandleFunc("GET /config", s.config)

	return mux
}

func (s *Server) Start() error {
	s.log.Info("admin server started", zap.String("addr", s.http.Addr))

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// healthz reports ok while at least one remote has an endpoint to serve.
func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}

	var (
		remotes = s.registry.Remotes()
		empty   []string
	)

	for _, r := range remotes {
		if len(r.CurrentPool()) == 0 {
			empty = append(empty, r.Name())
		}
	}

	if len(empty) > 0 {
		body["unavailable"] = empty
	}

	if len(remotes) > 0 && len(empty) == len(remotes) {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}

	writeJSON(w, status, body)
}

func (s *Server) listRemotes(w http.ResponseWriter, _ *http.Request) {
	remotes := s.registry.Remotes()

	snapshots := make([]relay.RemoteSnapshot, 0, len(remotes))
	for _, r := range remotes {
		snapshots = append(snapshots, r.Snapshot())
	}

	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) getRemote(w http.ResponseWriter, req *http.Request) {
	remote, ok := s.registry.Remote(req.PathValue("name"))
	if !ok {
		relay.WriteError(w, relay.ErrorCodeNotFound, "unknown remote", "", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, remote.Snapshot())
}

func (s *Server) setStatus(w http.ResponseWriter, req *http.Request) {
	remote, ok := s.registry.Remote(req.PathValue("name"))
	if !ok {
		relay.WriteError(w, relay.ErrorCodeNotFound, "unknown remote", "", http.StatusNotFound)
		return
	}

	var set func(string) error

	switch req.PathValue("action") {
	case "up":
		set = remote.SetUp
	case "down":
		set = remote.SetDown
	case "checking":
		set = remote.SetChecking
	default:
		relay.WriteError(w, relay.ErrorCodeNotFound, "unknown action", "", http.StatusNotFound)
		return
	}

	url := req.URL.Query().Get("url")
	if url == "" {
		relay.WriteError(w, relay.ErrorCodeBadRequest, "url query parameter is required", "", http.StatusBadRequest)
		return
	}

	if err := set(url); err != nil {
		if errors.Is(err, relay.ErrUnknownEndpoint) {
			relay.WriteError(w, relay.ErrorCodeNotFound, "unknown endpoint", "", http.StatusNotFound)
			return
		}

		relay.WriteError(w, relay.ErrorCodeInternal, err.Error(), "", http.StatusInternalServerError)

		return
	}

	s.log.Info("endpoint status overridden",
		zap.String("remote", remote.Name()),
		zap.String("url", url),
		zap.String("action", req.PathValue("action")),
	)

	writeJSON(w, http.StatusOK, remote.Snapshot())
}

func (s *Server) transactions(w http.ResponseWriter, req *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []relay.Event{})
		return
	}

	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	writeJSON(w, http.StatusOK, s.history.Recent(limit))
}

func (s *Server) config(w http.ResponseWriter, _ *http.Request) {
	if s.cfg == nil {
		relay.WriteError(w, relay.ErrorCodeNotFound, "config not exposed", "", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, s.cfg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	//nolint:errcheck,gosec // its ok
	json.NewEncoder(w).Encode(v)
}
