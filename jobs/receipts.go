package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/buildledger/buildledger/internal/documents"
	jobmetrics "github.com/buildledger/buildledger/internal/jobs"
	"github.com/buildledger/buildledger/internal/mail"
	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/profile"
	"github.com/buildledger/buildledger/internal/shared"
)

// InvoiceReader loads an owner's invoice.
type InvoiceReader interface {
	Get(ctx context.Context, ownerID, id uuid.UUID) (*documents.Document, error)
}

// PaymentReader loads an owner's ledger row and records that its receipt went out.
type PaymentReader interface {
	Get(ctx context.Context, ownerID, id uuid.UUID) (*payments.Payment, error)
	MarkReceiptSent(ctx context.Context, ownerID, id uuid.UUID, at time.Time) error
}

// ReceiptJob emails the customer after a payment settles.
type ReceiptJob struct {
	invoices InvoiceReader
	payments PaymentReader
	mailer   mail.Mailer
	composer mail.Composer
	profiles profile.Reader
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
	now      func() time.Time
}

// NewReceiptJob wires the receipt job. profiles may be nil.
func NewReceiptJob(invoices InvoiceReader, ledger PaymentReader, mailer mail.Mailer, composer mail.Composer, profiles profile.Reader, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptJob{
		invoices: invoices,
		payments: ledger,
		mailer:   mailer,
		composer: composer,
		profiles: profiles,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Handle executes the receipt task.
func (j *ReceiptJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload PaymentReceiptPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.OwnerID == uuid.Nil || payload.InvoiceID == uuid.Nil || payload.PaymentID == uuid.Nil {
		return fmt.Errorf("incomplete payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics.Track(TaskPaymentReceipt)
	err := j.send(ctx, payload)
	return tracker.End(err)
}

func (j *ReceiptJob) send(ctx context.Context, payload PaymentReceiptPayload) error {
	logger := j.logger.With(
		slog.String("invoice_id", payload.InvoiceID.String()),
		slog.String("payment_id", payload.PaymentID.String()),
	)

	invoice, err := j.invoices.Get(ctx, payload.OwnerID, payload.InvoiceID)
	if errors.Is(err, shared.ErrNotFound) {
		logger.Info("receipt skipped, invoice gone")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load invoice: %w", err)
	}
	payment, err := j.payments.Get(ctx, payload.OwnerID, payload.PaymentID)
	if errors.Is(err, shared.ErrNotFound) {
		logger.Info("receipt skipped, payment gone")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load payment: %w", err)
	}
	if payment.Status != payments.StatusCompleted || payment.InvoiceID != invoice.ID {
		logger.Info("receipt skipped", slog.String("payment_status", string(payment.Status)))
		return nil
	}
	if payment.ReceiptSentAt != nil {
		logger.Info("receipt already sent")
		return nil
	}

	recipient := invoice.SentTo
	if recipient == "" {
		recipient = invoice.ClientEmail
	}
	business, err := profile.Lookup(ctx, j.profiles, payload.OwnerID)
	if err != nil {
		return fmt.Errorf("load business profile: %w", err)
	}
	msg, err := j.composer.ReceiptMessage(invoice, payment, business, recipient)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	id, err := j.mailer.Send(ctx, msg)
	j.metrics.CountEmail("receipt", err)
	if errors.Is(err, mail.ErrNoRecipient) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("send receipt: %w", err)
	}
	// a failed stamp is logged, not retried: retrying would mail the customer twice
	if err := j.payments.MarkReceiptSent(ctx, payload.OwnerID, payload.PaymentID, j.now()); err != nil {
		logger.Warn("mark receipt sent", slog.Any("error", err))
	}
	logger.Info("receipt sent", slog.String("email_id", id))
	return nil
}
