// Package controlapi is the JSON control plane: an HTTP surface over the
// process-wide peer router, used by operators to
// inspect connections and drive them up or down without restarting the
// daemon.
package controlapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/midibridged/midibridged/internal/controlapi/middleware"
	"github.com/midibridged/midibridged/internal/router"
)

// Router is the subset of *router.Router the control API depends on, kept
// narrow so handlers are easy to exercise against a fake.
type Router interface {
	AddPeer(peer router.Peer) int
	RemovePeer(id int)
	Connect(fromID, toID int)
	Disconnect(fromID, toID int)
	StatusReport() router.GraphStatus
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	mux    *chi.Mux
	router Router
	log    *slog.Logger
}

// NewServer creates the control-plane HTTP handler with all routes mounted.
func NewServer(r Router, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{mux: chi.NewRouter(), router: r, log: log}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes configures middleware and mounts the route groups.
func (s *Server) routes() {
	r := s.mux

	r.Use(chimw.RealIP)
	r.Use(requestCorrelationID)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RateLimit(middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/peers/{fromID}", func(r chi.Router) {
			r.Post("/connect/{toID}", s.handleConnect)
			r.Post("/disconnect/{toID}", s.handleDisconnect)
			r.Delete("/", s.handleRemovePeer)
		})
	})

	s.log.Info("control api routes mounted")
}

// requestCorrelationID stamps every request with a uuid-based id, echoed
// back on the response so operators can thread a single request through
// logs on both sides.
func requestCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(withCorrelationID(r.Context(), id)))
	})
}

// statusResponse mirrors router.GraphStatus in a JSON-friendly shape; the
// router's map-keyed-by-int form doesn't marshal the way callers expect.
type statusResponse struct {
	Peers []peerStatus `json:"peers"`
}

type peerStatus struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	Kind      string         `json:"kind"`
	Fields    map[string]any `json:"fields,omitempty"`
	Edges     []int          `json:"edges"`
	SentCount uint64         `json:"sent_count"`
	RecvCount uint64         `json:"recv_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := s.router.StatusReport()
	resp := statusResponse{Peers: make([]peerStatus, 0, len(report.Peers))}
	for id, st := range report.Peers {
		resp.Peers = append(resp.Peers, peerStatus{
			ID:        id,
			Name:      st.Name,
			Kind:      st.Kind,
			Fields:    st.Fields,
			Edges:     st.Edges,
			SentCount: st.SentCount,
			RecvCount: st.RecvCount,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	fromID, toID, ok := pathPeerIDs(w, r)
	if !ok {
		return
	}
	s.router.Connect(fromID, toID)
	s.log.Info("control api connect", "from", fromID, "to", toID, "request_id", correlationIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"from": fromID, "to": toID})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	fromID, toID, ok := pathPeerIDs(w, r)
	if !ok {
		return
	}
	s.router.Disconnect(fromID, toID)
	s.log.Info("control api disconnect", "from", fromID, "to", toID, "request_id", correlationIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"from": fromID, "to": toID})
}

func (s *Server) handleRemovePeer(w http.ResponseWriter, r *http.Request) {
	fromID, ok := pathPeerID(w, r, "fromID")
	if !ok {
		return
	}
	s.router.RemovePeer(fromID)
	s.log.Info("control api remove peer", "id", fromID, "request_id", correlationIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"id": fromID})
}

// Serve returns an *http.Server for addr with this handler mounted; it
// does not start listening. The caller runs ListenAndServe and Shutdown.
func (s *Server) Serve(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
