package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/kernelgate/internal/images"
	"github.com/seantiz/kernelgate/internal/model"
)

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	data, err := s.images.Get(name)
	if errors.Is(err, images.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		s.logger.Error("get image", "name", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get image")
		return
	}

	w.Header().Set("Content-Type", model.MIMEPNG)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("write image", "name", name, "error", err)
	}
}

func (s *Server) handleClearImages(w http.ResponseWriter, _ *http.Request) {
	n := s.images.Len()
	s.images.Clear()
	s.logger.Info("image store cleared", "count", n)
	w.WriteHeader(http.StatusNoContent)
}
