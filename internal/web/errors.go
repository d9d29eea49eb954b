package web

// Errors are logged with their technical detail and the request id, then
// returned as the user message from importer.MapError: JSON for API routes,
// an HTML alert otherwise.

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/recimport/internal/importer"
	"github.com/JonMunkholm/recimport/internal/logging"
)

// ErrorResponse is the JSON body of an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for err when the handler has no better
// idea.
func statusFor(err error) int {
	switch {
	case errors.Is(err, importer.ErrJobNotFound), errors.Is(err, importer.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrTooManyImports):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := importer.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}

	if wantsJSON(r) {
		s.writeJSON(w, status, ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := errorAlert(msg, middleware.GetReqID(r.Context())).Render(r.Context(), w); err != nil {
		s.logger.Error("render error page", "error", err)
	}
}

func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
