// Package statusserver exposes a read-only diagnostics surface over the
// running cluster state: the backend list (name, role, health, enabled)
// and the backend count. Shaper occupancy and queue depth are not served.
// It is deliberately separate from any admin/control API — nothing here
// can change cluster behavior, only observe it.
package statusserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/christianparpart/x0-sub000/internal/director"
)

// BackendView summarizes one backend for the status surface.
type BackendView struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	Health  string `json:"health"`
	Enabled bool   `json:"enabled"`
}

// Server serves read-only cluster diagnostics over HTTP.
type Server struct {
	router  *mux.Router
	cluster *director.Cluster
	pool    *director.BackendPool
}

// New builds a status server backed by cluster and pool.
func New(cluster *director.Cluster, pool *director.BackendPool) *Server {
	s := &Server{router: mux.NewRouter(), cluster: cluster, pool: pool}
	s.router.HandleFunc("/status/backends", s.handleBackends).Methods(http.MethodGet)
	s.router.HandleFunc("/status/cluster", s.handleCluster).Methods(http.MethodGet)
	return s
}

// ServeHTTP lets Server be mounted directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	backends := s.pool.Backends()
	views := make([]BackendView, 0, len(backends))
	for _, b := range backends {
		views = append(views, BackendView{
			Name:    b.Name(),
			Role:    b.Role().String(),
			Health:  b.HealthState().String(),
			Enabled: b.Enabled(),
		})
	}
	writeJSON(w, views)
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"backends": len(s.pool.Backends()),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
