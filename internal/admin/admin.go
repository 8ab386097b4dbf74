// Package admin exposes a loopback-only diagnostics HTTP surface: a config
// dump, a ping endpoint, a cache snapshot, and Prometheus /metrics.
// Grounded on the teacher's registration.go, which wires
// config.Main.ConfigHandlerPath / PingHandlerPath onto a gorilla/mux
// router.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mitmcache/proxy/internal/cache"
	"github.com/mitmcache/proxy/internal/config"
	"github.com/mitmcache/proxy/internal/util/middleware"
)

// Server bundles the routes and the state they report on.
type Server struct {
	Cache  *cache.Cache
	Config *config.ProxyConfig
}

// Router builds the gorilla/mux router for the admin surface, matching the
// teacher's RegisterProxyRoutes pattern of one handler per configured path.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Trace("admin"))
	r.HandleFunc(s.Config.Admin.PingPath, s.handlePing).Methods(http.MethodGet)
	r.HandleFunc(s.Config.Admin.ConfigPath, s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc(s.Config.Admin.CachePath, s.handleCacheSnapshot).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/toml")
	_, _ = w.Write([]byte(s.Config.String()))
}

// snapshotEntry is the JSON-friendly projection of a cache.Entry for the
// diagnostics dump; the cache state dump is human-readable only, not a
// stable interface (§6).
type snapshotEntry struct {
	Host      string  `json:"host"`
	Path      string  `json:"path"`
	Size      int64   `json:"size"`
	Frequency int64   `json:"frequency"`
	Latency   float64 `json:"latency"`
	Score     float64 `json:"score"`
}

func (s *Server) handleCacheSnapshot(w http.ResponseWriter, r *http.Request) {
	entries := s.Cache.Snapshot()
	out := make([]snapshotEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, snapshotEntry{
			Host:      e.Host,
			Path:      e.Path,
			Size:      e.Size,
			Frequency: e.Frequency,
			Latency:   e.Latency,
			Score:     e.Score,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Size      int              `json:"size"`
		Capacity  int              `json:"capacity"`
		Hits      int64            `json:"hits"`
		Misses    int64            `json:"misses"`
		Evictions int64            `json:"evictions"`
		Entries   []snapshotEntry  `json:"entries"`
	}{
		Size:      s.Cache.Size(),
		Capacity:  s.Cache.Capacity(),
		Hits:      s.Cache.Hits(),
		Misses:    s.Cache.Misses(),
		Evictions: s.Cache.Evictions(),
		Entries:   out,
	})
}
