package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/platform/httpx"
	"github.com/buildledger/buildledger/internal/shared"
)

// MaxWebhookBytes caps processor webhook bodies.
const MaxWebhookBytes = 64 << 10

// SignatureHeader carries the processor's webhook signature.
const SignatureHeader = "Stripe-Signature"

// Handler exposes the webhook endpoint and the owner payment API.
type Handler struct {
	logger         *slog.Logger
	engine         *Engine
	issuer         *Issuer
	ledger         Ledger
	invoices       InvoiceLinks
	webhookTimeout time.Duration
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine, issuer *Issuer, ledger Ledger, invoices InvoiceLinks, webhookTimeout time.Duration) *Handler {
	if webhookTimeout <= 0 {
		webhookTimeout = 10 * time.Second
	}
	return &Handler{
		logger:         logger,
		engine:         engine,
		issuer:         issuer,
		ledger:         ledger,
		invoices:       invoices,
		webhookTimeout: webhookTimeout,
	}
}

// MountWebhook registers the unauthenticated processor callback.
func (h *Handler) MountWebhook(r chi.Router) {
	r.Post("/webhooks/stripe", h.webhook)
}

// MountRoutes registers owner-authenticated payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices/payment-link", h.paymentLink)
	r.Get("/invoices/{id}/payments", h.listPayments)
	r.Post("/invoices/{id}/payments", h.recordPayment)
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBytes+1))
	if err != nil || len(payload) > MaxWebhookBytes {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.webhookTimeout)
	defer cancel()

	res, err := h.engine.HandleWebhook(ctx, payload, r.Header.Get(SignatureHeader))
	switch {
	case errors.Is(err, ErrUnverifiedEvent):
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
	case err != nil && (shared.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)):
		h.logger.Warn("webhook deferred", slog.Any("error", err))
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
	case err != nil:
		h.logger.Error("webhook failed", slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	default:
		h.logger.Debug("webhook processed", slog.String("outcome", string(res.Outcome)))
		httpx.JSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

type paymentLinkRequest struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
}

func (h *Handler) paymentLink(w http.ResponseWriter, r *http.Request) {
	owner, ok := httpx.RequireOwner(w, r)
	if !ok {
		return
	}
	var req paymentLinkRequest
	if !httpx.Bind(w, r, &req) {
		return
	}
	if req.InvoiceID == uuid.Nil {
		httpx.RespondError(w, shared.NewValidationError("invoice_id", "is required"))
		return
	}
	link, err := h.issuer.GetOrCreate(r.Context(), owner, req.InvoiceID)
	if err != nil {
		h.fail(w, r, "payment link", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"payment_link": link})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := httpx.RequireOwnerAndID(w, r, "id")
	if !ok {
		return
	}
	invoice, err := h.invoices.Get(r.Context(), owner, id)
	if err == nil && invoice.Kind != documents.KindInvoice {
		err = shared.ErrNotFound
	}
	if err != nil {
		h.fail(w, r, "list payments", err)
		return
	}
	payments, err := h.ledger.ListByInvoice(r.Context(), owner, id)
	if err != nil {
		h.fail(w, r, "list payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": payments})
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := httpx.RequireOwnerAndID(w, r, "id")
	if !ok {
		return
	}
	var in ManualPaymentInput
	if !httpx.Bind(w, r, &in) {
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")

	res, err := h.engine.RecordManual(r.Context(), owner, id, in)
	if err != nil {
		h.fail(w, r, "record payment", err)
		return
	}
	switch res.Outcome {
	case OutcomeApplied:
		httpx.JSON(w, http.StatusCreated, res)
	case OutcomeDropped:
		httpx.RespondError(w, shared.ErrNotFound)
	default:
		httpx.JSON(w, http.StatusOK, res)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !shared.IsValidation(err) && !errors.Is(err, shared.ErrNotFound) && !shared.IsAuthorization(err) {
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}
