package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/buildledger/buildledger/internal/jobs"
	"github.com/buildledger/buildledger/internal/payments"
)

const (
	defaultSweepWindow = 72 * time.Hour
	defaultSweepGrace  = 10 * time.Minute
	defaultSweepBatch  = 200
)

// UnreceiptedLister finds settled payments whose receipt has not gone out.
type UnreceiptedLister interface {
	ListUnreceipted(ctx context.Context, from, to time.Time, limit int) ([]payments.Payment, error)
}

// ReceiptEnqueuer schedules one receipt email.
type ReceiptEnqueuer interface {
	EnqueuePaymentReceipt(ctx context.Context, ownerID, invoiceID, paymentID uuid.UUID) error
}

// ReceiptSweepJob recovers receipts lost between commit and enqueue. Payments settled within the
// grace period are left to the regular enqueue path.
type ReceiptSweepJob struct {
	ledger  UnreceiptedLister
	queue   ReceiptEnqueuer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
	window  time.Duration
	grace   time.Duration
	batch   int
}

// NewReceiptSweepJob wires the sweep with a 72h look-back and a 10 minute grace period.
func NewReceiptSweepJob(ledger UnreceiptedLister, queue ReceiptEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptSweepJob{
		ledger:  ledger,
		queue:   queue,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		window:  defaultSweepWindow,
		grace:   defaultSweepGrace,
		batch:   defaultSweepBatch,
	}
}

// Handle executes one sweep.
func (j *ReceiptSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track(TaskReceiptSweep)
	err := j.sweep(ctx)
	return tracker.End(err)
}

func (j *ReceiptSweepJob) sweep(ctx context.Context) error {
	now := j.now().UTC()
	pending, err := j.ledger.ListUnreceipted(ctx, now.Add(-j.window), now.Add(-j.grace), j.batch)
	if err != nil {
		return fmt.Errorf("list unreceipted payments: %w", err)
	}
	var errs []error
	for _, p := range pending {
		if err := j.queue.EnqueuePaymentReceipt(ctx, p.OwnerID, p.InvoiceID, p.ID); err != nil {
			errs = append(errs, fmt.Errorf("enqueue receipt %s: %w", p.ID, err))
		}
	}
	if len(pending) > 0 {
		j.logger.Info("receipt sweep",
			slog.Int("found", len(pending)),
			slog.Int("failed", len(errs)),
		)
	}
	return errors.Join(errs...)
}
