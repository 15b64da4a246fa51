package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/money"
	"github.com/buildledger/buildledger/internal/shared"
)

const defaultApplyAttempts = 3

// Result describes one reconciliation run.
type Result struct {
	Outcome Outcome             `json:"outcome"`
	Payment *Payment            `json:"payment,omitempty"`
	Invoice *documents.Document `json:"invoice,omitempty"`
}

// Engine applies payment events to the ledger and invoice balances. For any one invoice, event
// processing is linearised by a lock and the store's row lock plus version check.
type Engine struct {
	source   EventSource
	uow      UnitOfWork
	locker   shared.Locker
	receipts ReceiptQueue
	metrics  OutcomeRecorder
	logger   *slog.Logger
	attempts int
}

// EngineOption tweaks an Engine.
type EngineOption func(*Engine)

// WithReceiptQueue enqueues a receipt after each settled payment.
func WithReceiptQueue(q ReceiptQueue) EngineOption {
	return func(e *Engine) { e.receipts = q }
}

// WithOutcomeRecorder counts outcomes.
func WithOutcomeRecorder(r OutcomeRecorder) EngineOption {
	return func(e *Engine) { e.metrics = r }
}

// NewEngine constructs the reconciliation engine.
func NewEngine(source EventSource, uow UnitOfWork, locker shared.Locker, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		source:   source,
		uow:      uow,
		locker:   locker,
		logger:   logger,
		attempts: defaultApplyAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleWebhook verifies, decodes and applies one raw delivery. Unverifiable payloads return
// ErrUnverifiedEvent; transient failures return a *shared.TransientError so the sender retries.
// Every other outcome, including dropped and rejected events, returns a nil error.
func (e *Engine) HandleWebhook(ctx context.Context, payload []byte, signature string) (Result, error) {
	event, err := e.source.Parse(payload, signature)
	if err != nil {
		var malformed *MalformedEventError
		switch {
		case errors.Is(err, ErrUnverifiedEvent):
			e.logger.Warn("webhook signature rejected", slog.Any("error", err))
			e.observe("unverified", "unverified")
			return Result{}, err
		case errors.As(err, &malformed):
			e.logger.Warn("webhook event dropped",
				slog.String("event_id", malformed.EventID),
				slog.String("type", malformed.Type),
				slog.String("reason", malformed.Reason),
			)
			e.observe(malformed.Type, string(OutcomeDropped))
			return Result{Outcome: OutcomeDropped}, nil
		default:
			return Result{}, fmt.Errorf("parse webhook: %w", err)
		}
	}

	res, err := e.Apply(ctx, event)
	if shared.IsAuthorization(err) {
		return Result{Outcome: OutcomeRejected}, nil
	}
	return res, err
}

// Apply reconciles one decoded event.
func (e *Engine) Apply(ctx context.Context, event Event) (Result, error) {
	switch ev := event.(type) {
	case CheckoutCompleted:
		return e.settle(ctx, ev.Kind(), ev.Details, StatusCompleted)
	case PaymentPending:
		return e.settle(ctx, ev.Kind(), ev.Details, StatusPending)
	case PaymentSucceeded:
		return e.settle(ctx, ev.Kind(), ev.Details, StatusCompleted)
	case PaymentFailed:
		return e.settle(ctx, ev.Kind(), ev.Details, StatusFailed)
	case Unhandled:
		e.logger.Debug("webhook event ignored", slog.String("event_id", ev.EventID), slog.String("type", ev.Type))
		e.observe(ev.Kind(), string(OutcomeIgnored))
		return Result{Outcome: OutcomeIgnored}, nil
	default:
		panic(fmt.Sprintf("payments: unsupported event type %T", event))
	}
}

// ManualPaymentInput is an owner-entered payment received outside the processor.
type ManualPaymentInput struct {
	Amount         decimal.Decimal `json:"amount"`
	Method         Method          `json:"method"`
	IdempotencyKey string          `json:"-"`
}

// RecordManual applies an owner-entered payment through the same idempotent path as webhooks.
// The idempotency key is scoped to the owner.
func (e *Engine) RecordManual(ctx context.Context, ownerID, invoiceID uuid.UUID, in ManualPaymentInput) (Result, error) {
	if in.IdempotencyKey == "" || len(in.IdempotencyKey) > 200 {
		return Result{}, shared.NewValidationError("Idempotency-Key", "header is required and at most 200 characters")
	}
	if !in.Method.Valid() || in.Method == MethodStripe {
		return Result{}, shared.NewValidationError("method", "must be one of zelle, venmo, paypal, cashapp, cash, check")
	}
	if !in.Amount.IsPositive() {
		return Result{}, shared.NewValidationError("amount", "must be greater than zero")
	}
	if !money.Round(in.Amount).Equal(in.Amount) {
		return Result{}, shared.NewValidationError("amount", "must have at most two decimal places")
	}
	details := Details{
		ExternalID: fmt.Sprintf("manual:%s:%s", ownerID, in.IdempotencyKey),
		Amount:     in.Amount,
		InvoiceID:  invoiceID,
		OwnerID:    ownerID,
		Method:     in.Method,
	}
	return e.settle(ctx, "manual", details, StatusCompleted)
}

func (e *Engine) settle(ctx context.Context, kind string, d Details, target Status) (Result, error) {
	if reason := incomplete(d); reason != "" {
		e.logger.Warn("payment event dropped", slog.String("event_id", d.EventID), slog.String("kind", kind), slog.String("reason", reason))
		e.observe(kind, string(OutcomeDropped))
		return Result{Outcome: OutcomeDropped}, nil
	}
	if d.Method == "" {
		d.Method = MethodStripe
	}

	unlock, err := e.locker.Lock(ctx, shared.InvoiceLockKey(d.InvoiceID))
	if err != nil {
		e.observe(kind, "error")
		return Result{}, shared.Transient("lock invoice", err)
	}
	defer unlock()

	var res Result
	for attempt := 1; ; attempt++ {
		res, err = e.applyOnce(ctx, d, target)
		if err == nil || !errors.Is(err, shared.ErrConflict) || attempt >= e.attempts {
			break
		}
		e.logger.Info("invoice version moved, retrying reconciliation",
			slog.String("invoice_id", d.InvoiceID.String()),
			slog.Int("attempt", attempt),
		)
	}
	switch {
	case shared.IsAuthorization(err):
		e.observe(kind, string(OutcomeRejected))
		return Result{Outcome: OutcomeRejected}, err
	case err != nil:
		e.observe(kind, "error")
		if shared.IsValidation(err) || shared.IsInvalidTransition(err) {
			return Result{}, err
		}
		return Result{}, shared.Transient("reconcile payment", err)
	}

	e.observe(kind, string(res.Outcome))
	e.logger.Info("payment reconciled",
		slog.String("event_id", d.EventID),
		slog.String("kind", kind),
		slog.String("external_id", d.ExternalID),
		slog.String("invoice_id", d.InvoiceID.String()),
		slog.String("outcome", string(res.Outcome)),
	)
	if res.Payment != nil && res.Payment.Status == StatusCompleted &&
		(res.Outcome == OutcomeApplied || res.Outcome == OutcomeStatusUpdated) {
		e.enqueueReceipt(ctx, res.Payment)
	}
	return res, nil
}

func (e *Engine) applyOnce(ctx context.Context, d Details, target Status) (Result, error) {
	var res Result
	err := e.uow.WithinTx(ctx, func(ctx context.Context, ledger Ledger, invoices InvoiceStore) error {
		res = Result{}
		externalID := d.ExternalID

		existing, err := ledger.FindByExternalID(ctx, externalID)
		if err != nil {
			return fmt.Errorf("find payment: %w", err)
		}
		if existing != nil {
			if existing.InvoiceID != d.InvoiceID || existing.OwnerID != d.OwnerID {
				e.alertMismatch(d, existing.OwnerID, "payment")
				return &shared.AuthorizationError{Resource: "payment", ID: externalID}
			}
			switch {
			case existing.Status == target:
				res = Result{Outcome: OutcomeDuplicate, Payment: existing}
				return nil
			case existing.Status == StatusPending:
				return e.promotePending(ctx, ledger, invoices, existing, target, &res)
			case existing.Status == StatusFailed && target == StatusCompleted:
				externalID = RetryExternalID(d.ExternalID)
				retry, err := ledger.FindByExternalID(ctx, externalID)
				if err != nil {
					return fmt.Errorf("find retry payment: %w", err)
				}
				if retry != nil {
					res = Result{Outcome: OutcomeDuplicate, Payment: retry}
					return nil
				}
			default:
				e.logger.Warn("stale_event",
					slog.String("event_id", d.EventID),
					slog.String("external_id", externalID),
					slog.String("recorded_status", string(existing.Status)),
					slog.String("event_status", string(target)),
				)
				res = Result{Outcome: OutcomeStale, Payment: existing}
				return nil
			}
		}

		invoice, err := e.loadInvoice(ctx, invoices, d)
		if err != nil {
			return err
		}
		if invoice == nil {
			res = Result{Outcome: OutcomeDropped}
			return nil
		}

		payment, err := ledger.RecordPayment(ctx, RecordInput{
			OwnerID:    d.OwnerID,
			InvoiceID:  d.InvoiceID,
			Amount:     d.Amount,
			Method:     d.Method,
			ExternalID: externalID,
			Status:     target,
		})
		if err != nil {
			if shared.IsDuplicateExternalID(err) {
				res = Result{Outcome: OutcomeDuplicate}
				return nil
			}
			return fmt.Errorf("record payment: %w", err)
		}
		switch target {
		case StatusFailed:
			res = Result{Outcome: OutcomeRecordedFailure, Payment: payment}
			return nil
		case StatusPending:
			// the balance moves when the async success promotes this row
			res = Result{Outcome: OutcomeRecordedPending, Payment: payment}
			return nil
		}

		updated, err := e.applyBalance(ctx, invoices, invoice, payment.Amount)
		if err != nil {
			return err
		}
		res = Result{Outcome: OutcomeApplied, Payment: payment, Invoice: updated}
		return nil
	})
	return res, err
}

func (e *Engine) promotePending(ctx context.Context, ledger Ledger, invoices InvoiceStore, existing *Payment, target Status, res *Result) error {
	payment, err := ledger.UpdateStatus(ctx, existing.ID, target)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	*res = Result{Outcome: OutcomeStatusUpdated, Payment: payment}
	if target != StatusCompleted {
		return nil
	}
	invoice, err := invoices.GetInvoiceForUpdate(ctx, existing.InvoiceID)
	if err != nil {
		return fmt.Errorf("load invoice: %w", err)
	}
	updated, err := e.applyBalance(ctx, invoices, invoice, payment.Amount)
	if err != nil {
		return err
	}
	res.Invoice = updated
	return nil
}

// loadInvoice returns (nil, nil) for events naming an unknown invoice.
func (e *Engine) loadInvoice(ctx context.Context, invoices InvoiceStore, d Details) (*documents.Document, error) {
	invoice, err := invoices.GetInvoiceForUpdate(ctx, d.InvoiceID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			e.logger.Warn("payment event for unknown invoice",
				slog.String("event_id", d.EventID),
				slog.String("invoice_id", d.InvoiceID.String()),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	if !invoice.IsInvoice() {
		e.logger.Warn("payment event names a quote", slog.String("document_id", d.InvoiceID.String()))
		return nil, nil
	}
	if invoice.OwnerID != d.OwnerID {
		e.alertMismatch(d, invoice.OwnerID, "invoice")
		return nil, &shared.AuthorizationError{Resource: "invoice", ID: d.InvoiceID.String()}
	}
	return invoice, nil
}

func (e *Engine) applyBalance(ctx context.Context, invoices InvoiceStore, invoice *documents.Document, amount decimal.Decimal) (*documents.Document, error) {
	if amount.GreaterThan(invoice.BalanceDue) {
		e.logger.Warn("payment exceeds balance due",
			slog.String("invoice_id", invoice.ID.String()),
			slog.String("balance_due", invoice.BalanceDue.StringFixed(2)),
			slog.String("amount", amount.StringFixed(2)),
		)
	}
	balance := money.ApplyPayment(invoice.BalanceDue, amount)
	status := documents.SettledStatus(invoice.Status, balance, invoice.Total)
	if status != invoice.Status {
		if err := documents.Transition(invoice.Kind, invoice.Status, status, documents.TriggerPayment); err != nil {
			return nil, err
		}
	}
	updated, err := invoices.ApplyBalance(ctx, documents.BalanceUpdate{
		ID:         invoice.ID,
		OwnerID:    invoice.OwnerID,
		Version:    invoice.Version,
		BalanceDue: balance,
		Status:     status,
	})
	if err != nil {
		return nil, fmt.Errorf("apply balance: %w", err)
	}
	return updated, nil
}

func (e *Engine) alertMismatch(d Details, storedOwner uuid.UUID, resource string) {
	e.logger.Error("payment owner mismatch",
		slog.String("alert", "owner_mismatch"),
		slog.String("resource", resource),
		slog.String("event_id", d.EventID),
		slog.String("invoice_id", d.InvoiceID.String()),
		slog.String("metadata_owner_id", d.OwnerID.String()),
		slog.String("stored_owner_id", storedOwner.String()),
	)
}

func (e *Engine) enqueueReceipt(ctx context.Context, p *Payment) {
	if e.receipts == nil {
		return
	}
	if err := e.receipts.EnqueuePaymentReceipt(ctx, p.OwnerID, p.InvoiceID, p.ID); err != nil {
		e.logger.Warn("enqueue payment receipt", slog.String("payment_id", p.ID.String()), slog.Any("error", err))
	}
}

func (e *Engine) observe(kind, outcome string) {
	if e.metrics != nil {
		e.metrics.ObserveReconciliation(kind, outcome)
	}
}

func incomplete(d Details) string {
	switch {
	case d.ExternalID == "":
		return "missing external id"
	case d.InvoiceID == uuid.Nil:
		return "missing invoice_id"
	case d.OwnerID == uuid.Nil:
		return "missing owner_id"
	case !d.Amount.IsPositive():
		return "non-positive amount"
	}
	return ""
}
