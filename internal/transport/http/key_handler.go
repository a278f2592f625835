package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "keygate/internal/errors"
	"keygate/internal/exporter"
	"keygate/internal/middleware"
	api "keygate/pkg/contracts/api/v1"
)

// KeyHandler serves /api/keys, /api/tokens and /api/settings
type KeyHandler struct {
	service      KeyService
	validator    *middleware.Validator
	errorHandler *apperrors.ErrorHandler
	logger       *slog.Logger
	now          func() time.Time
}

// NewKeyHandler creates a key handler
func NewKeyHandler(service KeyService, validator *middleware.Validator, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "keys")),
		now:          time.Now,
	}
}

// Routes returns the /api/keys router. Admin routes are wrapped with
// adminAuth.
func (h *KeyHandler) Routes(adminAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/activate-mac", h.ActivateHardware)
	r.Post("/verify", h.Verify)
	r.Post("/heartbeat", h.Heartbeat)
	r.Post("/report-tamper", h.ReportTamper)

	r.Group(func(r chi.Router) {
		r.Use(adminAuth)
		r.Post("/create", h.Create)
		r.Get("/list", h.List)
		r.Get("/export", h.Export)
		r.Post("/revoke", h.Revoke)
		r.Post("/toggle-kill", h.ToggleKill)
		r.Post("/reset", h.ResetBinding)
		r.Get("/{key}", h.Get)
	})

	return r
}

// TokenRoutes returns the /api/tokens router
func (h *KeyHandler) TokenRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/introspect", h.Introspect)
	return r
}

// SettingsRoutes returns the /api/settings router. Reading is public.
func (h *KeyHandler) SettingsRoutes(adminAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetSettings)
	r.With(adminAuth).Post("/", h.UpdateSettings)
	return r
}

// Create handles POST /api/keys/create
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req api.CreateKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.Issue(r.Context(), req)
	h.respond(w, r, http.StatusCreated, resp, err)
}

// ActivateHardware handles POST /api/keys/activate-mac
func (h *KeyHandler) ActivateHardware(w http.ResponseWriter, r *http.Request) {
	var req api.ActivateHardwareRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.ActivateHardware(r.Context(), req)
	h.respond(w, r, http.StatusOK, resp, err)
}

// Verify handles POST /api/keys/verify
func (h *KeyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.VerifyDevice(r.Context(), req)
	h.respond(w, r, http.StatusOK, resp, err)
}

// Heartbeat handles POST /api/keys/heartbeat
func (h *KeyHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.HeartbeatRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.Heartbeat(r.Context(), req)
	h.respond(w, r, http.StatusOK, resp, err)
}

// ReportTamper handles POST /api/keys/report-tamper
func (h *KeyHandler) ReportTamper(w http.ResponseWriter, r *http.Request) {
	var req api.ReportTamperRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.ReportTamper(r.Context(), req)
	h.respond(w, r, http.StatusOK, resp, err)
}

// Introspect handles POST /api/tokens/introspect
func (h *KeyHandler) Introspect(w http.ResponseWriter, r *http.Request) {
	var req api.IntrospectRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.Introspect(r.Context(), req)
	h.respond(w, r, http.StatusOK, resp, err)
}

// Get handles GET /api/keys/{key}
func (h *KeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Get(r.Context(), chi.URLParam(r, "key"))
	h.respond(w, r, http.StatusOK, resp, err)
}

// List handles GET /api/keys/list
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.List(r.Context())
	h.respond(w, r, http.StatusOK, resp, err)
}

// Export handles GET /api/keys/export?format=csv|xlsx
func (h *KeyHandler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := exporter.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.errorHandler.HandleError(w, r, apperrors.ErrInvalidRequest.WithMessage("format must be csv or xlsx"))
		return
	}

	list, err := h.service.List(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	// Rendered into a buffer so a failure can still produce an error body.
	now := h.now()
	var buf bytes.Buffer
	if err := exporter.Export(&buf, format, list, now); err != nil {
		h.errorHandler.HandleError(w, r, apperrors.ErrServer.Wrap(err))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.FileName(now)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.WarnContext(r.Context(), "export write failed", slog.String("error", err.Error()))
	}
}

// Revoke handles POST /api/keys/revoke
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req api.KeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.Revoke(r.Context(), req.Key)
	h.respond(w, r, http.StatusOK, resp, err)
}

// ToggleKill handles POST /api/keys/toggle-kill
func (h *KeyHandler) ToggleKill(w http.ResponseWriter, r *http.Request) {
	var req api.ToggleKillRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.ToggleKill(r.Context(), req.Key, *req.Enabled)
	h.respond(w, r, http.StatusOK, resp, err)
}

// ResetBinding handles POST /api/keys/reset
func (h *KeyHandler) ResetBinding(w http.ResponseWriter, r *http.Request) {
	var req api.ResetBindingRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.ResetBinding(r.Context(), req.Key, req.Target)
	h.respond(w, r, http.StatusOK, resp, err)
}

// GetSettings handles GET /api/settings
func (h *KeyHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetSettings(r.Context())
	h.respond(w, r, http.StatusOK, resp, err)
}

// UpdateSettings handles POST /api/settings
func (h *KeyHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateSettingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.UpdateSettings(r.Context(), req)
	h.respond(w, r, http.StatusOK, resp, err)
}

func (h *KeyHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := h.validator.Decode(r, dst); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return false
	}
	return true
}

func (h *KeyHandler) respond(w http.ResponseWriter, r *http.Request, status int, resp interface{}, err error) {
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}
