package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/application/services"
	"github.com/monorist/monorise/domain/entity"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// EntityHandler handles entity HTTP requests
type EntityHandler struct {
	base
	entities *services.EntityService
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(entities *services.EntityService, errs *appErrors.ErrorHandler, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{
		base:     base{errs: errs, logger: logger},
		entities: entities,
	}
}

// ListEntities handles GET /entity/{entityType}. With ?query= it searches the
// searchable fields instead of paging.
func (h *EntityHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	q := r.URL.Query()

	if query := q.Get("query"); query != "" {
		result, err := h.entities.QueryEntities(r.Context(), entityType, query)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondJSON(w, http.StatusOK, result)
		return
	}

	page, err := parsePageParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	list, err := h.entities.ListEntities(r.Context(), entityType, ports.ListOptions{
		Limit:      page.Limit,
		LastKey:    page.LastKey,
		Start:      q.Get("start"),
		End:        q.Get("end"),
		Projection: splitList(q.Get("projection")),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, list)
}

// CreateEntity handles POST /entity/{entityType}
func (h *EntityHandler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	payload, err := decodeObject(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	opts := services.CreateOptions{AccountID: accountID(r)}
	if raw, ok := payload["createdAt"].(string); ok {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			h.respondError(w, r, appErrors.NewValidationError("createdAt must be an RFC 3339 timestamp"))
			return
		}
		opts.CreatedAt = &createdAt
		delete(payload, "createdAt")
	}

	created, err := h.entities.CreateEntity(r.Context(), entityType, payload, opts)
	if err != nil {
		h.logger.Warn("Failed to create entity",
			zap.String("entityType", entityType),
			zap.Error(err),
		)
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, created)
}

// GetEntity handles GET /entity/{entityType}/{entityId}
func (h *EntityHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	found, err := h.entities.GetEntity(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, found)
}

// GetEntityByUniqueField handles GET /entity/{entityType}/unique/{field}/{value}
func (h *EntityHandler) GetEntityByUniqueField(w http.ResponseWriter, r *http.Request) {
	found, err := h.entities.GetEntityByUniqueField(r.Context(),
		chi.URLParam(r, "entityType"),
		chi.URLParam(r, "field"),
		chi.URLParam(r, "value"),
	)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, found)
}

// UpsertEntity handles PUT /entity/{entityType}/{entityId}
func (h *EntityHandler) UpsertEntity(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.entities.UpsertEntity)
}

// UpdateEntity handles PATCH /entity/{entityType}/{entityId}
func (h *EntityHandler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.entities.UpdateEntity)
}

type entityWrite func(ctx context.Context, entityType, entityID string, payload map[string]interface{}, accountID string) (*entity.Entity, error)

func (h *EntityHandler) write(w http.ResponseWriter, r *http.Request, fn entityWrite) {
	payload, err := decodeObject(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	written, err := fn(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"), payload, accountID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, written)
}

// DeleteEntity handles DELETE /entity/{entityType}/{entityId}
func (h *EntityHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	err := h.entities.DeleteEntity(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"), accountID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
