package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPaymentReceipt emails the customer a receipt for a settled payment.
	TaskPaymentReceipt = "payments:receipt_email"
	// TaskReceiptSweep re-enqueues receipts for settled payments that never got one.
	TaskReceiptSweep = "payments:receipt_sweep"
	// ReceiptSweepSpec is the default schedule of the receipt sweep.
	ReceiptSweepSpec = "@every 15m"

	receiptMaxRetry  = 8
	receiptRetention = 24 * time.Hour
	sweepTimeout     = 2 * time.Minute
)

// PaymentReceiptPayload identifies the payment a receipt is sent for.
type PaymentReceiptPayload struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	PaymentID uuid.UUID `json:"payment_id"`
}

// NewPaymentReceiptTask constructs the receipt task. The task id is derived from the payment so a
// payment is receipted at most once while its task is retained.
func NewPaymentReceiptTask(payload PaymentReceiptPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentReceipt, data,
		asynq.TaskID(fmt.Sprintf("receipt:%s", payload.PaymentID)),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(receiptMaxRetry),
		asynq.Retention(receiptRetention),
	), nil
}

// NewReceiptSweepTask constructs the periodic sweep task. It carries no payload.
func NewReceiptSweepTask() *asynq.Task {
	return asynq.NewTask(TaskReceiptSweep, nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(sweepTimeout),
	)
}
