package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/VictoriaMetrics/metrics"

	"github.com/PailletJuanPablo/hyperiondb/pkg/core"
	"github.com/PailletJuanPablo/hyperiondb/pkg/monitor"
)

// Server exposes operational state over HTTP: shard stats, workload
// counters, a health probe, and Prometheus metrics. Data-plane traffic
// stays on the TCP line protocol.
type Server struct {
	db    *core.DB
	stats *monitor.WorkloadStats
}

func NewServer(db *core.DB, stats *monitor.WorkloadStats) *Server {
	return &Server{db: db, stats: stats}
}

func (s *Server) Start(addr string) error {
	log.Printf("[API] Server listening on %s", addr)
	return http.ListenAndServe(addr, s.Mux())
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Shards   core.Stats       `json:"shards"`
		Workload monitor.Snapshot `json:"workload"`
	}{
		Shards:   s.db.Stats(),
		Workload: s.stats.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"total_docs": s.db.Len(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w, true)
}
