package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// TagHandler handles tag listings
type TagHandler struct {
	base
	tags ports.TagRepository
}

// NewTagHandler creates a new tag handler
func NewTagHandler(tags ports.TagRepository, errs *appErrors.ErrorHandler, logger *zap.Logger) *TagHandler {
	return &TagHandler{
		base: base{errs: errs, logger: logger},
		tags: tags,
	}
}

// ListTaggedEntities handles GET /tag/{entityType}/{tagName}
func (h *TagHandler) ListTaggedEntities(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	q := r.URL.Query()
	list, err := h.tags.ListTaggedEntities(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "tagName"), ports.TagListOptions{
		Group:   q.Get("group"),
		Start:   q.Get("start"),
		End:     q.Get("end"),
		Limit:   page.Limit,
		LastKey: page.LastKey,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, list)
}
