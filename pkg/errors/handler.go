package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse represents the API error response format
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
}

// ErrorHandler turns errors into HTTP responses
type ErrorHandler struct {
	logger *zap.Logger
	debug  bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	return &ErrorHandler{logger: logger, debug: debug}
}

// Handle writes err as JSON. Application errors keep their status and code;
// anything else is a 500 whose message is hidden outside debug mode.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	appErr := GetAppError(err)
	if appErr == nil {
		h.logger.Error("Unhandled error",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
		)
		message := "An internal error occurred"
		if h.debug {
			message = err.Error()
		}
		h.sendJSON(w, http.StatusInternalServerError, ErrorResponse{
			Code:      string(ErrorTypeInternal),
			Message:   message,
			RequestID: requestID,
		})
		return
	}

	status := HTTPStatusCode(appErr)
	code := appErr.Code
	if code == "" {
		code = string(appErr.Type)
	}
	h.logError(r, appErr, status)

	details := appErr.Details
	if h.debug && appErr.StackTrace != "" {
		details = make(map[string]interface{}, len(appErr.Details)+1)
		for k, v := range appErr.Details {
			details[k] = v
		}
		details["stackTrace"] = appErr.StackTrace
	}

	h.sendJSON(w, status, ErrorResponse{
		Code:      code,
		Message:   appErr.Message,
		Details:   details,
		RequestID: requestID,
	})
}

func (h *ErrorHandler) logError(r *http.Request, err *AppError, status int) {
	fields := []zap.Field{
		zap.String("error_type", string(err.Type)),
		zap.String("error_code", err.Code),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
	}
	if err.Cause != nil {
		fields = append(fields, zap.Error(err.Cause))
	}

	if status >= 500 {
		h.logger.Error(err.Message, fields...)
		return
	}
	h.logger.Warn(err.Message, fields...)
}

func (h *ErrorHandler) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

// Middleware turns panics into internal errors
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.Handle(w, r, NewInternalError(fmt.Sprintf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
