package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/buildledger/buildledger/internal/documents"
)

// Ledger is the append-only payment store.
type Ledger interface {
	// RecordPayment inserts a row and returns *shared.DuplicateExternalIDError when the external id exists.
	RecordPayment(ctx context.Context, in RecordInput) (*Payment, error)
	// FindByExternalID returns (nil, nil) when no row matches.
	FindByExternalID(ctx context.Context, externalID string) (*Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Payment, error)
	ListByInvoice(ctx context.Context, ownerID, invoiceID uuid.UUID) ([]Payment, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*Payment, error)
}

// InvoiceStore is the slice of the document repository reconciliation writes through.
type InvoiceStore interface {
	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*documents.Document, error)
	ApplyBalance(ctx context.Context, update documents.BalanceUpdate) (*documents.Document, error)
}

// UnitOfWork runs a ledger write and an invoice update atomically.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, ledger Ledger, invoices InvoiceStore) error) error
}

// ReceiptQueue schedules the customer receipt for a settled payment.
type ReceiptQueue interface {
	EnqueuePaymentReceipt(ctx context.Context, ownerID, invoiceID, paymentID uuid.UUID) error
}

// OutcomeRecorder counts reconciliation outcomes.
type OutcomeRecorder interface {
	ObserveReconciliation(kind, outcome string)
}
