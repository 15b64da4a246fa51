package documents

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/buildledger/buildledger/internal/platform/httpx"
	"github.com/buildledger/buildledger/internal/shared"
)

// FileLinker resolves a stored blob key to its public address.
type FileLinker interface {
	URL(key string) string
}

// Handler exposes the document JSON API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	files   FileLinker
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithFileLinks advertises the cached PDF address on PDF responses.
func WithFileLinks(files FileLinker) HandlerOption {
	return func(h *Handler) { h.files = files }
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger, service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MountRoutes registers document routes on an authenticated /api router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents/send", h.send)
	r.Get("/dashboard", h.summary)

	for _, segment := range []string{"quotes", "invoices"} {
		kind, _ := ParseKind(segment)
		base := "/" + segment
		r.Get(base, h.list(kind))
		r.Post(base, h.create(kind))
		r.Get(base+"/{id}", h.show(kind))
		r.Patch(base+"/{id}", h.update(kind))
		r.Delete(base+"/{id}", h.remove(kind))
		r.Post(base+"/{id}/status", h.transition(kind))
		r.Get(base+"/{id}/pdf", h.pdf(kind))
	}
	r.Post("/quotes/{id}/convert", h.convert)
}

func (h *Handler) list(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := httpx.RequireOwner(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		perPage, _ := strconv.Atoi(q.Get("per_page"))
		docs, pagination, err := h.service.List(r.Context(), owner, ListFilter{
			Kind:    kind,
			Status:  Status(q.Get("status")),
			Search:  q.Get("q"),
			Page:    page,
			PerPage: perPage,
		})
		if err != nil {
			h.fail(w, r, "list documents", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"data":       docs,
			"pagination": pagination,
		})
	}
}

func (h *Handler) create(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := httpx.RequireOwner(w, r)
		if !ok {
			return
		}
		var in CreateInput
		if !httpx.Bind(w, r, &in) {
			return
		}
		in.Kind = kind
		doc, err := h.service.Create(r.Context(), owner, in)
		if err != nil {
			h.fail(w, r, "create document", err)
			return
		}
		httpx.JSON(w, http.StatusCreated, doc)
	}
}

func (h *Handler) show(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, id, ok := httpx.RequireOwnerAndID(w, r, "id")
		if !ok {
			return
		}
		doc, err := h.service.Get(r.Context(), owner, kind, id)
		if err != nil {
			h.fail(w, r, "get document", err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) update(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, id, ok := httpx.RequireOwnerAndID(w, r, "id")
		if !ok {
			return
		}
		var patch Patch
		if !httpx.Bind(w, r, &patch) {
			return
		}
		doc, err := h.service.Update(r.Context(), owner, kind, id, patch)
		if err != nil {
			h.fail(w, r, "update document", err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) remove(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, id, ok := httpx.RequireOwnerAndID(w, r, "id")
		if !ok {
			return
		}
		if err := h.service.Delete(r.Context(), owner, kind, id); err != nil {
			h.fail(w, r, "delete document", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) transition(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, id, ok := httpx.RequireOwnerAndID(w, r, "id")
		if !ok {
			return
		}
		var in TransitionInput
		if !httpx.Bind(w, r, &in) {
			return
		}
		doc, err := h.service.Transition(r.Context(), owner, kind, id, in.Status)
		if err != nil {
			h.fail(w, r, "transition document", err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) pdf(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, id, ok := httpx.RequireOwnerAndID(w, r, "id")
		if !ok {
			return
		}
		data, doc, err := h.service.PDF(r.Context(), owner, kind, id)
		if err != nil {
			h.fail(w, r, "render document pdf", err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		if h.files != nil && doc.PDFKey != "" {
			w.Header().Set("Content-Location", h.files.URL(doc.PDFKey))
		}
		w.Header().Set("Content-Disposition", `inline; filename="`+doc.Number+`.pdf"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	owner, ok := httpx.RequireOwner(w, r)
	if !ok {
		return
	}
	var in SendInput
	if !httpx.Bind(w, r, &in) {
		return
	}
	doc, err := h.service.Send(r.Context(), owner, in)
	if err != nil {
		h.fail(w, r, "send document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := httpx.RequireOwnerAndID(w, r, "id")
	if !ok {
		return
	}
	var in ConvertInput
	if r.ContentLength != 0 && !httpx.Bind(w, r, &in) {
		return
	}
	doc, err := h.service.ConvertQuote(r.Context(), owner, id, in)
	if err != nil {
		h.fail(w, r, "convert quote", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	owner, ok := httpx.RequireOwner(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Summary(r.Context(), owner)
	if err != nil {
		h.fail(w, r, "dashboard summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !shared.IsValidation(err) && !errors.Is(err, shared.ErrNotFound) && !shared.IsInvalidTransition(err) {
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}
