package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/shared"
)

const paymentColumns = `id, owner_id, invoice_id, amount, method, external_id, status, receipt_sent_at, created_at, updated_at`

// PaymentLedger implements payments.Ledger.
type PaymentLedger struct {
	db dbtx
}

var _ payments.Ledger = (*PaymentLedger)(nil)

// RecordPayment inserts with ON CONFLICT DO NOTHING so a duplicate does not abort the surrounding
// transaction.
func (l *PaymentLedger) RecordPayment(ctx context.Context, in payments.RecordInput) (*payments.Payment, error) {
	p, err := scanPayment(l.db.QueryRow(ctx, `
		INSERT INTO payments (id, owner_id, invoice_id, amount, method, external_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (external_id) DO NOTHING
		RETURNING `+paymentColumns,
		uuid.New(), in.OwnerID, in.InvoiceID, toNumeric(in.Amount), string(in.Method), in.ExternalID, string(in.Status),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &shared.DuplicateExternalIDError{ExternalID: in.ExternalID}
	}
	if err != nil {
		return nil, classify("record payment", err)
	}
	return p, nil
}

func (l *PaymentLedger) FindByExternalID(ctx context.Context, externalID string) (*payments.Payment, error) {
	p, err := scanPayment(l.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_id = $1 FOR UPDATE`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find payment", err)
	}
	return p, nil
}

func (l *PaymentLedger) UpdateStatus(ctx context.Context, id uuid.UUID, status payments.Status) (*payments.Payment, error) {
	current, err := scanPayment(l.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, classify("load payment", err)
	}
	noop, err := payments.CheckStatusChange(current.Status, status)
	if err != nil {
		return nil, err
	}
	if noop {
		return current, nil
	}
	p, err := scanPayment(l.db.QueryRow(ctx, `
		UPDATE payments SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+paymentColumns, id, string(status)))
	if err != nil {
		return nil, classify("update payment status", err)
	}
	return p, nil
}

func (l *PaymentLedger) ListByInvoice(ctx context.Context, ownerID, invoiceID uuid.UUID) ([]payments.Payment, error) {
	rows, err := l.db.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE owner_id = $1 AND invoice_id = $2
		ORDER BY created_at, id`, ownerID, invoiceID)
	if err != nil {
		return nil, classify("list payments", err)
	}
	defer rows.Close()

	out := []payments.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, classify("scan payment", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list payments", err)
	}
	return out, nil
}

func (l *PaymentLedger) Get(ctx context.Context, ownerID, id uuid.UUID) (*payments.Payment, error) {
	p, err := scanPayment(l.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if err != nil {
		return nil, classify("get payment", err)
	}
	return p, nil
}

// MarkReceiptSent stamps the payment's receipt time. A second call keeps the first stamp.
func (l *PaymentLedger) MarkReceiptSent(ctx context.Context, ownerID, id uuid.UUID, at time.Time) error {
	tag, err := l.db.Exec(ctx, `
		UPDATE payments SET receipt_sent_at = COALESCE(receipt_sent_at, $3)
		WHERE id = $1 AND owner_id = $2`, id, ownerID, at.UTC())
	if err != nil {
		return classify("mark receipt sent", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListUnreceipted returns completed payments without a receipt whose last update falls in [from, to),
// oldest first.
func (l *PaymentLedger) ListUnreceipted(ctx context.Context, from, to time.Time, limit int) ([]payments.Payment, error) {
	rows, err := l.db.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = 'completed' AND receipt_sent_at IS NULL
		  AND updated_at >= $1 AND updated_at < $2
		ORDER BY updated_at, id
		LIMIT $3`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, classify("list unreceipted payments", err)
	}
	defer rows.Close()

	out := []payments.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, classify("scan payment", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list unreceipted payments", err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*payments.Payment, error) {
	var (
		p              payments.Payment
		amount         pgtype.Numeric
		method, status string
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.InvoiceID, &amount, &method, &p.ExternalID, &status, &p.ReceiptSentAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Amount = fromNumeric(amount)
	p.Method = payments.Method(method)
	p.Status = payments.Status(status)
	if p.ReceiptSentAt != nil {
		sent := p.ReceiptSentAt.UTC()
		p.ReceiptSentAt = &sent
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
