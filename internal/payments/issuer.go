package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/money"
	"github.com/buildledger/buildledger/internal/shared"
)

// CheckoutRequest describes a hosted checkout for an invoice's remaining balance.
type CheckoutRequest struct {
	InvoiceID     uuid.UUID
	OwnerID       uuid.UUID
	InvoiceNumber string
	ClientEmail   string
	AmountMinor   int64
	Currency      string
}

// CheckoutSession is the processor's hosted payment page.
type CheckoutSession struct {
	ID  string
	URL string
}

// CheckoutCreator opens hosted checkout sessions.
type CheckoutCreator interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

// InvoiceLinks is the owner-scoped document access the issuer needs.
type InvoiceLinks interface {
	Get(ctx context.Context, ownerID, id uuid.UUID) (*documents.Document, error)
	// SetPaymentLink stores the link only while the invoice is still at expectedVersion.
	SetPaymentLink(ctx context.Context, ownerID, id uuid.UUID, expectedVersion int64, url, sessionID string) error
}

// LinkRecorder counts link requests by result.
type LinkRecorder interface {
	ObservePaymentLink(result string)
}

// IssuerOption customises an Issuer.
type IssuerOption func(*Issuer)

// WithLinkRecorder reports "cached", "created" and "error" results.
func WithLinkRecorder(r LinkRecorder) IssuerOption {
	return func(i *Issuer) { i.metrics = r }
}

// Issuer returns a cached hosted payment link per invoice, creating one on first request.
type Issuer struct {
	invoices InvoiceLinks
	checkout CheckoutCreator
	currency string
	logger   *slog.Logger
	metrics  LinkRecorder
	group    singleflight.Group
}

// NewIssuer constructs the link issuer.
func NewIssuer(invoices InvoiceLinks, checkout CheckoutCreator, currency string, logger *slog.Logger, opts ...IssuerOption) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	if currency == "" {
		currency = "usd"
	}
	i := &Issuer{invoices: invoices, checkout: checkout, currency: currency, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Issuer) observe(result string) {
	if i.metrics != nil {
		i.metrics.ObservePaymentLink(result)
	}
}

// GetOrCreate returns the invoice's payment link. Concurrent calls for one invoice share a single
// processor round trip.
func (i *Issuer) GetOrCreate(ctx context.Context, ownerID, invoiceID uuid.UUID) (string, error) {
	key := ownerID.String() + ":" + invoiceID.String()
	v, err, _ := i.group.Do(key, func() (any, error) {
		return i.getOrCreate(ctx, ownerID, invoiceID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (i *Issuer) getOrCreate(ctx context.Context, ownerID, invoiceID uuid.UUID) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		invoice, err := i.invoices.Get(ctx, ownerID, invoiceID)
		if err != nil {
			return "", err
		}
		if !invoice.IsInvoice() {
			return "", shared.ErrNotFound
		}
		if invoice.Status == documents.StatusPaid || !invoice.BalanceDue.IsPositive() {
			return "", shared.NewValidationError("invoice_id", "invoice has no balance due")
		}
		if invoice.PaymentLink != "" {
			i.observe("cached")
			return invoice.PaymentLink, nil
		}

		session, err := i.checkout.CreateSession(ctx, CheckoutRequest{
			InvoiceID:     invoice.ID,
			OwnerID:       invoice.OwnerID,
			InvoiceNumber: invoice.Number,
			ClientEmail:   invoice.ClientEmail,
			AmountMinor:   money.ToMinorUnits(invoice.BalanceDue),
			Currency:      i.currency,
		})
		if err != nil {
			i.observe("error")
			return "", shared.Transient("create checkout session", err)
		}

		err = i.invoices.SetPaymentLink(ctx, ownerID, invoiceID, invoice.Version, session.URL, session.ID)
		if errors.Is(err, shared.ErrConflict) {
			// balance moved while the session was being created
			i.logger.Info("invoice changed during link creation, retrying", slog.String("invoice_id", invoiceID.String()))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("store payment link: %w", err)
		}
		i.logger.Info("payment link created",
			slog.String("invoice_id", invoiceID.String()),
			slog.String("session_id", session.ID),
		)
		i.observe("created")
		return session.URL, nil
	}
	return "", shared.ErrConflict
}
