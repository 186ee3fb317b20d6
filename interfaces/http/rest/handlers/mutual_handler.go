package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/application/services"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// MutualHandler handles mutual HTTP requests
type MutualHandler struct {
	base
	mutuals *services.MutualService
}

// NewMutualHandler creates a new mutual handler
func NewMutualHandler(mutuals *services.MutualService, errs *appErrors.ErrorHandler, logger *zap.Logger) *MutualHandler {
	return &MutualHandler{
		base:    base{errs: errs, logger: logger},
		mutuals: mutuals,
	}
}

type mutualPath struct {
	byType, byID, entityType, entityID string
}

func pathOf(r *http.Request) mutualPath {
	return mutualPath{
		byType:     chi.URLParam(r, "byEntityType"),
		byID:       chi.URLParam(r, "byEntityId"),
		entityType: chi.URLParam(r, "entityType"),
		entityID:   chi.URLParam(r, "entityId"),
	}
}

// ListEntitiesByEntity handles GET /mutual/{byEntityType}/{byEntityId}/{entityType}.
// ?chainEntityQuery= walks through an intermediate type instead of paging.
func (h *MutualHandler) ListEntitiesByEntity(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	page, err := parsePageParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	q := r.URL.Query()
	list, err := h.mutuals.ListEntitiesByEntity(r.Context(), p.byType, p.byID, p.entityType, ports.MutualListOptions{
		Limit:      page.Limit,
		LastKey:    page.LastKey,
		ChainQuery: q.Get("chainEntityQuery"),
		Projection: splitList(q.Get("projection")),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, list)
}

// GetMutual handles GET /mutual/{byEntityType}/{byEntityId}/{entityType}/{entityId}
func (h *MutualHandler) GetMutual(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	m, err := h.mutuals.GetMutual(r.Context(), p.byType, p.byID, p.entityType, p.entityID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, m)
}

// CreateMutual handles POST /mutual/{byEntityType}/{byEntityId}/{entityType}/{entityId}
func (h *MutualHandler) CreateMutual(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	payload, err := decodeObject(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	m, err := h.mutuals.CreateMutual(r.Context(), p.byType, p.byID, p.entityType, p.entityID, payload)
	if err != nil {
		h.logger.Warn("Failed to create mutual",
			zap.String("byEntityType", p.byType),
			zap.String("byEntityId", p.byID),
			zap.String("entityType", p.entityType),
			zap.String("entityId", p.entityID),
			zap.Error(err),
		)
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, m)
}

// UpdateMutual handles PATCH /mutual/{byEntityType}/{byEntityId}/{entityType}/{entityId}
func (h *MutualHandler) UpdateMutual(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	payload, err := decodeObject(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	m, err := h.mutuals.UpdateMutual(r.Context(), p.byType, p.byID, p.entityType, p.entityID, payload)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, m)
}

// DeleteMutual handles DELETE /mutual/{byEntityType}/{byEntityId}/{entityType}/{entityId}
func (h *MutualHandler) DeleteMutual(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	m, err := h.mutuals.DeleteMutual(r.Context(), p.byType, p.byID, p.entityType, p.entityID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, m)
}
