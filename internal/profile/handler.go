package profile

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/buildledger/buildledger/internal/platform/httpx"
	"github.com/buildledger/buildledger/internal/shared"
)

// Handler exposes the profile JSON API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers profile routes on an authenticated /api router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/profile", h.show)
	r.Put("/profile", h.save)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	owner, ok := httpx.RequireOwner(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), owner)
	if err != nil {
		h.fail(w, r, "get profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	owner, ok := httpx.RequireOwner(w, r)
	if !ok {
		return
	}
	var in Input
	if !httpx.Bind(w, r, &in) {
		return
	}
	p, err := h.service.Save(r.Context(), owner, in)
	if err != nil {
		h.fail(w, r, "save profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !shared.IsValidation(err) && !errors.Is(err, shared.ErrNotFound) {
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}
