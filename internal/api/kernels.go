package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/seantiz/kernelgate/internal/model"
)

// createKernelRequest is the optional JSON body for POST /api/kernels.
type createKernelRequest struct {
	KernelName string `json:"kernel_name"`
}

type createKernelResponse struct {
	KernelID string `json:"kernel_id"`
}

type listKernelsResponse struct {
	Kernels []model.KernelInfo `json:"kernels"`
}

type kernelSpecsResponse struct {
	Default     string   `json:"default"`
	KernelSpecs []string `json:"kernelspecs"`
}

func (s *Server) handleCreateKernel(w http.ResponseWriter, r *http.Request) {
	var req createKernelRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.registry.StartKernel(r.Context(), req.KernelName)
	if err != nil {
		s.writeEngineError(w, "start kernel", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, createKernelResponse{KernelID: id})
}

func (s *Server) handleListKernels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, listKernelsResponse{Kernels: s.registry.ListKernels()})
}

func (s *Server) handleListKernelSpecs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, kernelSpecsResponse{
		Default:     s.catalog.Default(),
		KernelSpecs: s.catalog.Specs(),
	})
}
