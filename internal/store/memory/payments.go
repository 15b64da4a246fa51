package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/shared"
)

// PaymentLedger implements payments.Ledger.
type PaymentLedger struct {
	store *Store
	inTx  bool
}

var _ payments.Ledger = (*PaymentLedger)(nil)

func (l *PaymentLedger) RecordPayment(ctx context.Context, in payments.RecordInput) (*payments.Payment, error) {
	var out *payments.Payment
	err := l.store.with(ctx, l.inTx, func(d *dataset) error {
		if _, exists := d.byExternal[in.ExternalID]; exists {
			return &shared.DuplicateExternalIDError{ExternalID: in.ExternalID}
		}
		now := l.store.now().UTC()
		p := payments.Payment{
			ID:         uuid.New(),
			OwnerID:    in.OwnerID,
			InvoiceID:  in.InvoiceID,
			Amount:     in.Amount,
			Method:     in.Method,
			ExternalID: in.ExternalID,
			Status:     in.Status,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		d.payments[p.ID] = p
		d.byExternal[p.ExternalID] = p.ID
		out = &p
		return nil
	})
	return out, err
}

func (l *PaymentLedger) FindByExternalID(ctx context.Context, externalID string) (*payments.Payment, error) {
	var out *payments.Payment
	err := l.store.with(ctx, l.inTx, func(d *dataset) error {
		id, ok := d.byExternal[externalID]
		if !ok {
			return nil
		}
		p := d.payments[id]
		out = &p
		return nil
	})
	return out, err
}

func (l *PaymentLedger) UpdateStatus(ctx context.Context, id uuid.UUID, status payments.Status) (*payments.Payment, error) {
	var out *payments.Payment
	err := l.store.with(ctx, l.inTx, func(d *dataset) error {
		p, ok := d.payments[id]
		if !ok {
			return shared.ErrNotFound
		}
		noop, err := payments.CheckStatusChange(p.Status, status)
		if err != nil {
			return err
		}
		if !noop {
			p.Status = status
			p.UpdatedAt = l.store.now().UTC()
			d.payments[id] = p
		}
		out = &p
		return nil
	})
	return out, err
}

func (l *PaymentLedger) ListByInvoice(ctx context.Context, ownerID, invoiceID uuid.UUID) ([]payments.Payment, error) {
	out := []payments.Payment{}
	err := l.store.with(ctx, l.inTx, func(d *dataset) error {
		for _, p := range d.payments {
			if p.OwnerID == ownerID && p.InvoiceID == invoiceID {
				out = append(out, p)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

func (l *PaymentLedger) Get(ctx context.Context, ownerID, id uuid.UUID) (*payments.Payment, error) {
	var out *payments.Payment
	err := l.store.with(ctx, l.inTx, func(d *dataset) error {
		p, ok := d.payments[id]
		if !ok || p.OwnerID != ownerID {
			return shared.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

// MarkReceiptSent stamps the payment's receipt time. A second call keeps the first stamp.
func (l *PaymentLedger) MarkReceiptSent(ctx context.Context, ownerID, id uuid.UUID, at time.Time) error {
	return l.store.with(ctx, l.inTx, func(d *dataset) error {
		p, ok := d.payments[id]
		if !ok || p.OwnerID != ownerID {
			return shared.ErrNotFound
		}
		if p.ReceiptSentAt == nil {
			stamp := at.UTC()
			p.ReceiptSentAt = &stamp
			d.payments[id] = p
		}
		return nil
	})
}

// ListUnreceipted returns completed payments without a receipt whose last update falls in [from, to),
// oldest first.
func (l *PaymentLedger) ListUnreceipted(ctx context.Context, from, to time.Time, limit int) ([]payments.Payment, error) {
	out := []payments.Payment{}
	err := l.store.with(ctx, l.inTx, func(d *dataset) error {
		for _, p := range d.payments {
			if p.Status != payments.StatusCompleted || p.ReceiptSentAt != nil {
				continue
			}
			if p.UpdatedAt.Before(from) || !p.UpdatedAt.Before(to) {
				continue
			}
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}
