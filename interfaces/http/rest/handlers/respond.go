package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/monorist/monorise/interfaces/http/rest/middleware"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/pkg/utils"
)

const maxBodyBytes = 1 << 20

// base holds what every handler needs to answer a request
type base struct {
	errs   *appErrors.ErrorHandler
	logger *zap.Logger
}

func (b base) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		b.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (b base) respondError(w http.ResponseWriter, r *http.Request, err error) {
	b.errs.Handle(w, r, err)
}

// decodeObject reads a JSON object body. An empty body is an empty object.
func decodeObject(r *http.Request) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if r.Body == nil || r.ContentLength == 0 {
		return payload, nil
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(&payload); err != nil {
		return nil, appErrors.NewValidationError("request body must be a JSON object").WithCause(err)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return payload, nil
}

func accountID(r *http.Request) string {
	return r.Header.Get(middleware.AccountIDHeader)
}

// pageParams are the query parameters shared by paginated listings
type pageParams struct {
	Limit   int32  `validate:"omitempty,min=1,max=1000"`
	LastKey string `validate:"omitempty,base64url"`
}

func parsePageParams(r *http.Request) (pageParams, error) {
	q := r.URL.Query()
	params := pageParams{LastKey: q.Get("lastKey")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return params, appErrors.NewValidationError(fmt.Sprintf("limit must be a number: %q", raw))
		}
		params.Limit = int32(limit)
	}
	if err := utils.ValidateStruct(params); err != nil {
		return params, appErrors.NewValidationError(err.Error())
	}
	return params, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
