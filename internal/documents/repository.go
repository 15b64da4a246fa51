package documents

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists documents. Every method except GetInvoiceForUpdate filters by owner.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, ownerID, id uuid.UUID) (*Document, error)
	List(ctx context.Context, ownerID uuid.UUID, filter ListFilter) ([]Document, int, error)
	Create(ctx context.Context, doc Document) (*Document, error)
	// Update writes header fields, status, totals and the full item list when the stored version
	// still equals expectedVersion; otherwise it returns shared.ErrConflict.
	Update(ctx context.Context, doc Document, expectedVersion int64) (*Document, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	NextNumber(ctx context.Context, ownerID uuid.UUID, kind Kind) (string, error)
	GetForUpdate(ctx context.Context, ownerID, id uuid.UUID) (*Document, error)
	// GetInvoiceForUpdate is the trusted, unscoped read used by payment reconciliation.
	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*Document, error)
	// ApplyBalance writes balance and status together and clears any cached payment link.
	ApplyBalance(ctx context.Context, update BalanceUpdate) (*Document, error)
	// SetPaymentLink caches a checkout link while the document is still at expectedVersion.
	// It does not bump the version.
	SetPaymentLink(ctx context.Context, ownerID, id uuid.UUID, expectedVersion int64, url, sessionID string) error
	// SetPDFKey records the latest rendered blob without bumping the version.
	SetPDFKey(ctx context.Context, ownerID, id uuid.UUID, key string) error
	HasCompletedPayments(ctx context.Context, ownerID, id uuid.UUID) (bool, error)
	Summary(ctx context.Context, ownerID uuid.UUID, now time.Time) (Summary, error)
}

// Renderer produces the PDF form of a document.
type Renderer interface {
	Render(ctx context.Context, doc *Document) ([]byte, error)
}

// BlobStore keeps rendered files.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Delivery is one outbound document email.
type Delivery struct {
	Document  *Document
	Recipient string
	PDF       []byte
}

// Notifier dispatches document emails.
type Notifier interface {
	SendDocument(ctx context.Context, delivery Delivery) error
}
