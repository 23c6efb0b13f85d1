// Package healthcheck exposes a liveness endpoint with a few engine gauges
// for load balancers and probes.
package healthcheck

import (
	"context"
	"encoding/json"
	"net/http"
)

// StatusReporter provides the counters included in the health response.
type StatusReporter interface {
	PeerCount() int
	WaitingCount() int
}

type Server struct {
	reporter StatusReporter
	*http.Server
}

type healthResponse struct {
	Status  string `json:"status"`
	Peers   int    `json:"peers"`
	Waiting int    `json:"waiting"`
}

func NewServer(address string, reporter StatusReporter) *Server {
	s := &Server{reporter: reporter}

	router := http.NewServeMux()
	router.HandleFunc("/health", s.handleHealth)

	s.Server = &http.Server{
		Addr:    address,
		Handler: router,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:  "ok",
		Peers:   s.reporter.PeerCount(),
		Waiting: s.reporter.WaitingCount(),
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}
