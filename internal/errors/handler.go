package errors

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Body is the uniform JSON error shape: {error, code} plus the verdict
// flags a client needs to react without parsing messages.
type Body struct {
	Success            bool        `json:"success"`
	Valid              bool        `json:"valid"`
	Error              string      `json:"error"`
	Code               string      `json:"code"`
	Kill               bool        `json:"kill,omitempty"`
	Blocked            bool        `json:"blocked,omitempty"`
	RequiresActivation bool        `json:"requiresActivation,omitempty"`
	Details            interface{} `json:"details,omitempty"`
	RequestID          string      `json:"requestId,omitempty"`
}

// NewBody builds the wire body for an APIError
func NewBody(e *APIError) *Body {
	return &Body{
		Error:              e.Message,
		Code:               e.Code,
		Kill:               IsKill(e.Code),
		Blocked:            IsBlocked(e.Code),
		RequiresActivation: RequiresActivation(e.Code),
		Details:            e.Details,
	}
}

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to the uniform body and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	apiErr := FromError(err)
	reqID := middleware.GetReqID(r.Context())

	level := slog.LevelInfo
	if apiErr.Kind == KindServerFault {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.String("code", apiErr.Code),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	body := NewBody(apiErr)
	body.RequestID = reqID
	if apiErr.Kind == KindServerFault && !h.includeStack {
		// Internal causes stay in the log.
		body.Details = nil
	}

	render.Status(r, apiErr.StatusCode)
	render.JSON(w, r, body)
}

// HandlePanic recovers from panics and responds with SERVER_ERROR
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	body := NewBody(ErrServer)
	body.RequestID = reqID
	if h.includeStack {
		body.Details = fmt.Sprintf("%v", recovered)
	}

	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, body)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, ErrNotFound.WithMessage("No route for %s", r.URL.Path))
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, ErrMethodNotAllowed.WithMessage("Method %s is not allowed for this endpoint", r.Method))
}
