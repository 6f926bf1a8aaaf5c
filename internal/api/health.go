package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status  string `json:"status"`
	Kernels int    `json:"kernels"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := healthResponse{Status: "ok", Kernels: len(s.registry.ListKernels())}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}

const robotsTxt = "User-agent: *\nDisallow: /\n"

func (s *Server) handleRobots(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(robotsTxt))
}
