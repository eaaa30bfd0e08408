package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/telnet2/shelld/internal/command"
	"github.com/telnet2/shelld/internal/event"
	"github.com/telnet2/shelld/internal/logging"
	"github.com/telnet2/shelld/internal/session"
	"github.com/telnet2/shelld/pkg/types"
)

// HTTPListener serves the JSON API and WebSocket sessions. A websocket
// listener is the same server with only /ws and /health mounted.
type HTTPListener struct {
	name    string
	typ     string
	address string
	d       *session.Dispatcher
	bus     *event.Bus
	opts    session.ServeOptions
	origins []string
	router  *chi.Mux
	log     zerolog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	cancel  context.CancelFunc
	sockets map[*websocket.Conn]struct{}
	served  chan struct{}
}

// NewHTTP creates an unbound HTTP listener. bus may be nil, which disables
// the event stream.
func NewHTTP(cfg types.ListenerConfig, d *session.Dispatcher, bus *event.Bus) *HTTPListener {
	return newHTTPListener(cfg, TypeHTTP, d, bus)
}

// NewWebSocket creates an unbound WebSocket-only listener.
func NewWebSocket(cfg types.ListenerConfig, d *session.Dispatcher) *HTTPListener {
	return newHTTPListener(cfg, TypeWebSocket, d, nil)
}

func newHTTPListener(cfg types.ListenerConfig, typ string, d *session.Dispatcher, bus *event.Bus) *HTTPListener {
	h := &HTTPListener{
		name:    cfg.ListenerName(),
		typ:     typ,
		address: cfg.Address,
		d:       d,
		bus:     bus,
		opts:    session.ServeOptions{Prompt: cfg.Prompt, Banner: cfg.Banner},
		origins: cfg.CORS,
		router:  chi.NewRouter(),
		log:     logging.Component("transport").With().Str("listener", cfg.ListenerName()).Str("type", typ).Logger(),
		sockets: make(map[*websocket.Conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	h.setupMiddleware()
	h.setupRoutes()
	return h
}

func (h *HTTPListener) Name() string { return h.name }
func (h *HTTPListener) Type() string { return h.typ }

// Router returns the Chi router for testing.
func (h *HTTPListener) Router() http.Handler { return h.router }

func (h *HTTPListener) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln != nil {
		return h.ln.Addr().String()
	}
	return h.address
}

// setupMiddleware configures middleware for the server.
func (h *HTTPListener) setupMiddleware() {
	h.router.Use(middleware.RequestID)
	h.router.Use(middleware.RealIP)
	h.router.Use(h.requestLogger)
	h.router.Use(middleware.Recoverer)

	if len(h.origins) > 0 {
		h.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.origins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

// setupRoutes configures all API routes.
func (h *HTTPListener) setupRoutes() {
	r := h.router

	r.Get("/health", h.health)
	r.Get("/ws", h.serveWebSocket)
	if h.typ == TypeWebSocket {
		return
	}

	r.Get("/commands", h.listCommands)
	r.Post("/exec", h.exec)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.listSessions)
		r.Post("/", h.createSession)
		r.Delete("/{sessionID}", h.deleteSession)
	})
	if h.bus != nil {
		r.Get("/events", h.events)
	}
}

func (h *HTTPListener) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("requestID", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (h *HTTPListener) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(h.origins) == 0 || origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (h *HTTPListener) Bind(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln != nil {
		return ErrAlreadyBound
	}

	ln, err := listen(ctx, h.address)
	if err != nil {
		return err
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error().Err(err).Msg("http server stopped")
		}
	}()

	h.ln, h.srv, h.cancel, h.served = ln, srv, cancel, served
	h.log.Info().Str("addr", ln.Addr().String()).Msg("listener bound")
	return nil
}

func (h *HTTPListener) Unbind(ctx context.Context) error {
	h.mu.Lock()
	srv := h.srv
	if srv == nil {
		h.mu.Unlock()
		return nil
	}
	cancel, served := h.cancel, h.served
	h.srv, h.ln, h.cancel, h.served = nil, nil, nil, nil
	for conn := range h.sockets {
		conn.Close()
	}
	h.mu.Unlock()

	// long-lived streams watch the base context
	cancel()
	err := srv.Shutdown(ctx)
	if werr := waitDone(ctx, served); err == nil {
		err = werr
	}
	h.log.Info().Msg("listener unbound")
	return err
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (h *HTTPListener) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Sessions: len(h.d.Sessions())})
}

// CommandInfo describes one command in GET /commands.
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Usage       string `json:"usage"`
}

func (h *HTTPListener) listCommands(w http.ResponseWriter, r *http.Request) {
	cmds := h.d.Manager().Commands()
	out := make([]CommandInfo, 0, len(cmds))
	for _, c := range cmds {
		if c.Hidden() {
			continue
		}
		out = append(out, CommandInfo{Name: c.Name(), Description: c.Description(), Usage: c.Usage()})
	}
	writeJSON(w, http.StatusOK, out)
}

// ExecRequest is the body of POST /exec. Without a session id the line runs
// in a fresh session that is closed afterwards.
type ExecRequest struct {
	Line    string `json:"line"`
	Session string `json:"session,omitempty"`
	Stdin   string `json:"stdin,omitempty"`
}

// ExecResponse is returned by POST /exec.
type ExecResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Status   string `json:"status"`
	ExitCode int    `json:"exitCode"`
}

func (h *HTTPListener) exec(w http.ResponseWriter, r *http.Request) {
	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	var s *session.Session
	if req.Session != "" {
		var ok bool
		if s, ok = h.d.Session(req.Session); !ok {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
	} else {
		s = h.d.Open(h.name)
		defer h.d.Close(s)
	}

	var stdout, stderr syncBuffer
	o, err := h.d.Exec(r.Context(), s, req.Line, strings.NewReader(req.Stdin), &stdout, &stderr)
	if err != nil {
		o = command.Outcome{Status: command.Cancelled, Err: err}
	}
	writeJSON(w, http.StatusOK, ExecResponse{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Status:   o.Status.String(),
		ExitCode: o.ExitCode(),
	})
}

// SessionInfo describes an open session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Listener string    `json:"listener"`
	Created  time.Time `json:"created"`
}

func sessionInfo(s *session.Session) SessionInfo {
	return SessionInfo{ID: s.ID(), Listener: s.Listener(), Created: s.Created()}
}

func (h *HTTPListener) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.d.Sessions()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionInfo(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPListener) createSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, sessionInfo(h.d.Open(h.name)))
}

func (h *HTTPListener) deleteSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.d.Session(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	h.d.Close(s)
	w.WriteHeader(http.StatusNoContent)
}

// syncBuffer collects command output; handlers may write from several
// goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
