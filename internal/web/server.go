// Package web serves the opsdeck dashboard: an operation menu, a
// terminal panel fed by Server-Sent Events, and a small JSON API over
// the ops engine.
package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/deixis/opsdeck/internal/ops"
	"github.com/deixis/opsdeck/internal/runner"
	"github.com/deixis/opsdeck/internal/transcript"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	source          = "web"
	maxRequestBytes = 1 << 20
)

//go:embed index.html
var indexHTML []byte

// Options configures a Server.
type Options struct {
	// Limiter throttles /api/run, /api/exec and /api/phrase. Nil means unlimited.
	Limiter *rate.Limiter
	Logger  *slog.Logger
	// ShutdownTimeout bounds graceful shutdown. Zero means 10s.
	ShutdownTimeout time.Duration
}

// Server is the dashboard HTTP server.
type Server struct {
	engine      *ops.Engine
	limiter     *rate.Limiter
	logger      *slog.Logger
	shutdown    time.Duration
	broadcaster *Broadcaster
	mux         *http.ServeMux
}

// NewServer creates a dashboard over engine. engine.Log must be set.
func NewServer(engine *ops.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	shutdown := opts.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}
	s := &Server{
		engine:      engine,
		limiter:     opts.Limiter,
		logger:      logger,
		shutdown:    shutdown,
		broadcaster: NewBroadcaster(logger),
		mux:         http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /{$}", s.serveIndex)
	s.mux.HandleFunc("GET /api/operations", s.handleOperations)
	s.mux.HandleFunc("POST /api/run", s.limited(s.handleRun))
	s.mux.HandleFunc("POST /api/exec", s.limited(s.handleExec))
	s.mux.HandleFunc("POST /api/phrase", s.limited(s.handlePhrase))
	s.mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	s.mux.HandleFunc("DELETE /api/transcript", s.handleClearTranscript)
	s.mux.HandleFunc("GET /api/tools", s.handleTools)
	s.mux.HandleFunc("GET /api/stream", s.handleStream)
	return s
}

// Handler returns the HTTP handler serving the dashboard.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve listens on addr and serves until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("starting http server network listener: %w", err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done, then shuts down
// gracefully. New transcript entries are pushed to stream clients.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("dashboard listening", "addr", "http://"+ln.Addr().String())

	unwatch := s.engine.Log.Watch(func(e transcript.Entry) {
		s.publish(event{Type: "entry", Entry: &e})
	})
	defer unwatch()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.broadcaster.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error running http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// event is one SSE payload.
type event struct {
	Type    string             `json:"type"` // snapshot, entry, clear
	Welcome string             `json:"welcome,omitempty"`
	Entry   *transcript.Entry  `json:"entry,omitempty"`
	Entries []transcript.Entry `json:"entries,omitempty"`
}

func (s *Server) publish(ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshaling event", "type", ev.Type, "err", err)
		return
	}
	var seq int64
	if ev.Entry != nil {
		seq = ev.Entry.Seq
	}
	s.broadcaster.Broadcast(seq, data)
}

func (s *Server) serveIndex(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleOperations(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"operations": s.engine.Catalog.List(),
		"phrases":    s.engine.Catalog.Phrases(),
		"allow_raw":  s.engine.Config != nil && s.engine.Config.AllowRaw,
	})
}

type runRequest struct {
	Operation      string            `json:"operation"`
	Args           map[string]string `json:"args"`
	Dir            string            `json:"dir"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	DryRun         bool              `json:"dry_run"`
}

func (s *Server) handleRun(w http.ResponseWriter, req *http.Request) {
	var body runRequest
	if !s.decode(w, req, &body) {
		return
	}
	if body.Operation == "" {
		writeError(w, http.StatusBadRequest, "operation is required")
		return
	}
	d := ops.Descriptor{
		Operation: body.Operation,
		Args:      body.Args,
		Dir:       body.Dir,
		Timeout:   time.Duration(body.TimeoutSeconds) * time.Second,
		Source:    source,
	}

	if body.DryRun {
		preview, err := s.engine.Preview(d)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"command": preview.Command, "dir": preview.Dir})
		return
	}

	entry, err := s.engine.Execute(req.Context(), d)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type execRequest struct {
	Command        string `json:"command"`
	Dir            string `json:"dir"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (s *Server) handleExec(w http.ResponseWriter, req *http.Request) {
	if s.engine.Config == nil || !s.engine.Config.AllowRaw {
		writeError(w, http.StatusForbidden, "raw commands are disabled; set allow_raw: true in .opsdeck")
		return
	}
	var body execRequest
	if !s.decode(w, req, &body) {
		return
	}
	if body.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	entry := s.engine.ExecRaw(req.Context(), runner.Request{
		Command: body.Command,
		Dir:     body.Dir,
		Timeout: time.Duration(body.TimeoutSeconds) * time.Second,
	}, source)
	writeJSON(w, http.StatusOK, entry)
}

type phraseRequest struct {
	Text string `json:"text"`
}

func (s *Server) handlePhrase(w http.ResponseWriter, req *http.Request) {
	var body phraseRequest
	if !s.decode(w, req, &body) {
		return
	}
	if body.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	entry, err := s.engine.Match(req.Context(), body.Text, source)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleTranscript(w http.ResponseWriter, req *http.Request) {
	log := s.engine.Log
	if req.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]any{
			"welcome": log.Welcome(),
			"entries": log.Entries(),
		})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := log.Render(w); err != nil {
		s.logger.Error("rendering transcript", "err", err)
	}
}

func (s *Server) handleClearTranscript(w http.ResponseWriter, req *http.Request) {
	s.engine.Log.Clear()
	s.publish(event{Type: "clear", Welcome: s.engine.Log.Welcome()})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTools(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Tools())
}

func (s *Server) handleStream(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	client, ok := s.broadcaster.subscribe(ctx)
	if !ok {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.broadcaster.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribed before the snapshot, so entries appended in between
	// arrive on client too and are skipped by seq.
	entries, last := s.engine.Log.Snapshot()
	snapshot, err := json.Marshal(event{
		Type:    "snapshot",
		Welcome: s.engine.Log.Welcome(),
		Entries: entries,
	})
	if err != nil {
		s.logger.Error("marshaling snapshot", "err", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", snapshot)
	flusher.Flush()

	s.logger.Debug("SSE client connected", "remote", req.RemoteAddr, "clients", s.broadcaster.Len())
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE client disconnected", "remote", req.RemoteAddr)
			return
		case msg, ok := <-client:
			if !ok {
				return
			}
			if msg.Seq != 0 && msg.Seq <= last {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", msg.Data)
			flusher.Flush()
		}
	}
}

// limited rejects requests over the rate limit with 429.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded; retry later")
			return
		}
		next(w, req)
	}
}

func (s *Server) decode(w http.ResponseWriter, req *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// statusFor maps descriptor errors to HTTP status codes.
func statusFor(err error) int {
	var unavailable ops.ErrToolUnavailable
	switch {
	case errors.Is(err, ops.ErrUnknownOperation):
		return http.StatusNotFound
	case errors.Is(err, ops.ErrMissingArg), errors.Is(err, ops.ErrInvalidArg):
		return http.StatusBadRequest
	case errors.As(err, &unavailable):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
