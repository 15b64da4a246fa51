package payments

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Method is how the client paid.
type Method string

const (
	MethodStripe  Method = "stripe"
	MethodZelle   Method = "zelle"
	MethodVenmo   Method = "venmo"
	MethodPayPal  Method = "paypal"
	MethodCashApp Method = "cashapp"
	MethodCash    Method = "cash"
	MethodCheck   Method = "check"
)

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	switch m {
	case MethodStripe, MethodZelle, MethodVenmo, MethodPayPal, MethodCashApp, MethodCash, MethodCheck:
		return true
	}
	return false
}

// Status is the ledger lifecycle of one payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Payment is an append-only ledger row. ExternalID is unique across the ledger.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	OwnerID       uuid.UUID       `json:"-"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        Method          `json:"method"`
	ExternalID    string          `json:"external_id"`
	Status        Status          `json:"status"`
	ReceiptSentAt *time.Time      `json:"receipt_sent_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RecordInput creates a ledger row.
type RecordInput struct {
	OwnerID    uuid.UUID
	InvoiceID  uuid.UUID
	Amount     decimal.Decimal
	Method     Method
	ExternalID string
	Status     Status
}

// ErrInvalidPaymentTransition is returned for a ledger status move outside the allowed set.
var ErrInvalidPaymentTransition = errors.New("invalid payment status transition")

// CheckStatusChange validates a ledger status move. Same-status moves are allowed and report noop.
func CheckStatusChange(from, to Status) (noop bool, err error) {
	if from == to {
		return true, nil
	}
	switch {
	case from == StatusPending && (to == StatusCompleted || to == StatusFailed):
		return false, nil
	case from == StatusCompleted && to == StatusRefunded:
		return false, nil
	}
	return false, ErrInvalidPaymentTransition
}

// RetryExternalID derives the ledger key of a success that follows a recorded failure.
func RetryExternalID(externalID string) string {
	return externalID + ":retry"
}
