package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/mindgraph/internal/observe"
	"github.com/MrWong99/mindgraph/internal/store"
)

//go:embed templates/index.html
var templateFS embed.FS

// defaultSessionLimit caps /api/sessions when no limit is given.
const defaultSessionLimit = 50

// Reader is the slice of the store the dashboard reads from. The dashboard
// never writes.
type Reader interface {
	ListSessions(ctx context.Context, limit int) ([]store.Session, error)
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	LatestTranscripts(ctx context.Context, sessionID string, limit int) ([]store.TranscriptRecord, error)
	LatestNodes(ctx context.Context, sessionID string, limit int) ([]store.NodeRecord, error)
	LatestSnapshot(ctx context.Context, sessionID string) (*store.SnapshotRecord, error)
}

// Server is the dashboard HTTP server.
type Server struct {
	reader  Reader
	state   *State
	metrics *observe.Metrics
	logger  *slog.Logger
	tmpl    *template.Template
	router  chi.Router
}

// NewServer assembles the dashboard routes on top of the given store reader
// and bus-fed state.
func NewServer(reader Reader, state *State, metrics *observe.Metrics, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := template.New("index.html").Funcs(template.FuncMap{
		"derefStr": func(p *string) string {
			if p == nil {
				return ""
			}
			return *p
		},
		"derefInt": func(p *int) int {
			if p == nil {
				return 0
			}
			return *p
		},
	}).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, err
	}
	s := &Server{
		reader:  reader,
		state:   state,
		metrics: metrics,
		logger:  logger,
		tmpl:    tmpl,
	}

	r := chi.NewRouter()
	r.Use(s.measure)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/", s.handleIndex)
	r.Get("/api/sessions", s.handleSessions)
	r.Get("/api/sessions/{sessionID}", s.handleSessionDetail)
	r.Get("/api/snapshots/latest", s.handleLatestSnapshot)
	r.Get("/api/heartbeats", s.handleHeartbeats)
	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	return s, nil
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// measure records request duration per route pattern and status.
func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.HTTPRequestDuration.Record(r.Context(), time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.Int("status", sw.status),
		))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the hijacker underneath, which
// the websocket upgrade needs.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// indexData is what the overview template renders: the newest sessions, the
// first one expanded, and agent liveness.
type indexData struct {
	Sessions        []store.Session
	SelectedSession *store.Session
	Transcripts     []store.TranscriptRecord
	Nodes           []store.NodeRecord
	LatestSnapshot  *store.SnapshotRecord
	Heartbeats      []Heartbeat
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := s.reader.ListSessions(ctx, 20)
	if err != nil {
		s.serverError(w, "list sessions", err)
		return
	}

	data := indexData{Sessions: sessions, Heartbeats: s.state.Heartbeats()}
	if len(sessions) > 0 {
		selected := sessions[0]
		data.SelectedSession = &selected
		if data.Transcripts, err = s.reader.LatestTranscripts(ctx, selected.SessionID, 10); err != nil {
			s.serverError(w, "list transcripts", err)
			return
		}
		if data.Nodes, err = s.reader.LatestNodes(ctx, selected.SessionID, 20); err != nil {
			s.serverError(w, "list nodes", err)
			return
		}
		if data.LatestSnapshot, err = s.reader.LatestSnapshot(ctx, selected.SessionID); err != nil {
			s.serverError(w, "load snapshot", err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, data); err != nil {
		s.logger.Error("render index", "error", err)
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	sessions, err := s.reader.ListSessions(r.Context(), limit)
	if err != nil {
		s.serverError(w, "list sessions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	session, err := s.reader.GetSession(ctx, sessionID)
	if err != nil {
		s.serverError(w, "load session", err)
		return
	}
	if session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	transcripts, err := s.reader.LatestTranscripts(ctx, sessionID, 20)
	if err != nil {
		s.serverError(w, "list transcripts", err)
		return
	}
	nodes, err := s.reader.LatestNodes(ctx, sessionID, 50)
	if err != nil {
		s.serverError(w, "list nodes", err)
		return
	}
	snapshot, err := s.reader.LatestSnapshot(ctx, sessionID)
	if err != nil {
		s.serverError(w, "load snapshot", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session":         session,
		"transcripts":     transcripts,
		"nodes":           nodes,
		"latest_snapshot": snapshot,
	})
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.reader.LatestSnapshot(r.Context(), "")
	if err != nil {
		s.serverError(w, "load snapshot", err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleHeartbeats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.state.Heartbeats())
}

// handleWS streams the live bus feed (heartbeats and snapshot hashes) to the
// browser until either side closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	feed, cancel := s.state.Subscribe()
	defer cancel()

	// The client never sends application messages; CloseRead surfaces the
	// close handshake as context cancellation.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-feed:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, item); err != nil {
				return
			}
		}
	}
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
