package middleware

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/monorist/monorise/domain/registry"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// AccountIDHeader carries the caller account, set by the authentication layer in
// front of the API.
const AccountIDHeader = "account-id"

// EntityTypes rejects requests whose URL names an entity type that is not
// configured. params lists the URL parameters holding entity types.
func EntityTypes(reg *registry.Registry, errs *appErrors.ErrorHandler, params ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, param := range params {
				entityType := chi.URLParam(r, param)
				if entityType != "" && !reg.Has(entityType) {
					errs.Handle(w, r, appErrors.NewNotFoundError(fmt.Sprintf("entity type %q is not configured", entityType)).
						WithCode(appErrors.CodeNotFound))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
