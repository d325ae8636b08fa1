package api

import (
	"context"
	"ctrlv/svc/util"
	"encoding/json"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status string `json:"status"`
}
type ReadyResponse struct {
	Ready    bool   `json:"ready"`
	Degraded bool   `json:"degraded"`
	Database string `json:"database"`
	Circuit  string `json:"circuit,omitempty"`
	Stats    string `json:"stats"`
}

// circuitReporter is implemented by stores that guard themselves with a
// circuit breaker.
type circuitReporter interface {
	CircuitState() string
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// Ready fails when the store is unreachable. A missing or failing stats
// sink only marks the response degraded.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := ReadyResponse{
		Ready:    true,
		Database: "up",
		Stats:    "up",
	}
	dbCtx, dbCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer dbCancel()
	if err := s.store.Ping(dbCtx); err != nil {
		util.Error().Err(err).Msg("database health check failed")
		resp.Database = "down"
		resp.Ready = false
	}
	if cr, ok := s.store.(circuitReporter); ok {
		resp.Circuit = cr.CircuitState()
		if resp.Circuit != "closed" {
			resp.Degraded = true
		}
	}
	if s.rdb != nil {
		statsCtx, statsCancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer statsCancel()
		if err := s.rdb.Ping(statsCtx); err != nil {
			util.Warn().Err(err).Msg("stats sink health check failed")
			resp.Stats = "down"
			resp.Degraded = true
		}
	} else {
		resp.Stats = "unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}
