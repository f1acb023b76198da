package handler

import (
	"net/http"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// SourceLister lists known marketplace sources.
type SourceLister interface {
	List() []domain.Source
}

// SourceHandler serves the source registry snapshot.
type SourceHandler struct {
	sources SourceLister
}

// NewSourceHandler creates a SourceHandler.
func NewSourceHandler(sources SourceLister) *SourceHandler {
	return &SourceHandler{sources: sources}
}

// List returns every known source.
// GET /api/sources
func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": h.sources.List()})
}
