package feed

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gosuda.org/vitalink"
	"gosuda.org/vitalink/internal/logging"
)

// Source is the part of a vitalink.Source the server reports on.
type Source interface {
	Info() vitalink.DataSourceInfo
	State() vitalink.State
	SessionID() uuid.UUID
	Stats() vitalink.Stats
}

// Health status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Health is the /healthz body.
type Health struct {
	Status  string         `json:"status"`
	State   string         `json:"state"`
	Session string         `json:"session,omitempty"`
	Clients int            `json:"clients"`
	Stats   vitalink.Stats `json:"stats"`
}

// Options configures a Server.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	// AllowedOrigins lists browser origins allowed on /ws. "*" allows any. Requests
	// without an Origin header always pass; when the list is empty the origin must
	// match the request host.
	AllowedOrigins []string
}

// Server serves the monitor endpoints for one data source.
type Server struct {
	src      Source
	hub      *Hub
	opts     Options
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer returns a server reporting on src and streaming hub.
func NewServer(src Source, hub *Hub, opts Options) *Server {
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 5 * time.Second
	}
	s := &Server{
		src:  src,
		hub:  hub,
		opts: opts,
		log:  logging.Component("feed-server"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/info", s.handleInfo)
	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// HTTPServer returns an *http.Server for Routes listening on Options.Addr.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}
}

// Health reports the data source condition.
func (s *Server) Health() Health {
	st := s.src.State()
	return Health{
		Status:  statusOf(st),
		State:   st.String(),
		Session: sessionString(s.src.SessionID()),
		Clients: s.hub.Clients(),
		Stats:   s.src.Stats(),
	}
}

func statusOf(st vitalink.State) string {
	switch st {
	case vitalink.StatePolling:
		return StatusOK
	case vitalink.StateStopped, vitalink.StateFailed:
		return StatusDown
	default:
		return StatusDegraded
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.Health()
	code := http.StatusOK
	if h.Status == StatusDown {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, h)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.src.Info())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade")
		return
	}

	hello, err := Message{
		Type:    TypeHello,
		Time:    time.Now(),
		Session: sessionString(s.src.SessionID()),
		State:   s.src.State().String(),
		Data:    Hello{Info: s.src.Info(), Clients: s.hub.Clients() + 1},
	}.Encode()
	if err != nil {
		s.log.Error().Err(err).Msg("encode hello")
		hello = nil
	}
	s.hub.add(conn, hello).start()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.opts.AllowedOrigins) == 0 {
		return sameHost(origin, r.Host)
	}
	if slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin) {
		return true
	}
	s.log.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

func sameHost(origin, host string) bool {
	for _, scheme := range []string{"http://", "https://"} {
		if origin == scheme+host {
			return true
		}
	}
	return false
}

func sessionString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("write response")
	}
}
