package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/platform/db"
	"github.com/buildledger/buildledger/internal/shared"
)

const documentColumns = `id, kind, number, owner_id, client_name, client_email, issue_date, due_date,
	status, tax_rate, subtotal, tax_amount, total, balance_due, notes, terms, sent_at, sent_to,
	pdf_key, payment_link, payment_session_id, source_quote_id, version, created_at, updated_at`

// DocumentRepository implements documents.Repository.
type DocumentRepository struct {
	db   dbtx
	pool *pgxpool.Pool
	inTx bool
}

var _ documents.Repository = (*DocumentRepository)(nil)

func (r *DocumentRepository) WithTx(ctx context.Context, fn func(context.Context, documents.Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	err := db.WithTxOptions(ctx, r.pool, txOptions, func(tx pgx.Tx) error {
		return fn(ctx, &DocumentRepository{db: tx, pool: r.pool, inTx: true})
	})
	return classify("documents tx", err)
}

// atomic runs fn on the current transaction, or on a fresh one when the repository is unbound.
func (r *DocumentRepository) atomic(ctx context.Context, fn func(dbtx) error) error {
	if r.inTx {
		return fn(r.db)
	}
	return db.WithTxOptions(ctx, r.pool, txOptions, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

func (r *DocumentRepository) Get(ctx context.Context, ownerID, id uuid.UUID) (*documents.Document, error) {
	return r.fetchOne(ctx, r.db, `SELECT `+documentColumns+` FROM documents WHERE id = $1 AND owner_id = $2`, id, ownerID)
}

func (r *DocumentRepository) GetForUpdate(ctx context.Context, ownerID, id uuid.UUID) (*documents.Document, error) {
	return r.fetchOne(ctx, r.db, `SELECT `+documentColumns+` FROM documents WHERE id = $1 AND owner_id = $2 FOR UPDATE`, id, ownerID)
}

func (r *DocumentRepository) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*documents.Document, error) {
	return r.fetchOne(ctx, r.db, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id)
}

func (r *DocumentRepository) fetchOne(ctx context.Context, q dbtx, query string, args ...interface{}) (*documents.Document, error) {
	doc, err := scanDocument(q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, classify("get document", err)
	}
	items, err := loadItems(ctx, q, []uuid.UUID{doc.ID})
	if err != nil {
		return nil, classify("get document items", err)
	}
	doc.Items = items[doc.ID]
	return doc, nil
}

func (r *DocumentRepository) List(ctx context.Context, ownerID uuid.UUID, filter documents.ListFilter) ([]documents.Document, int, error) {
	conditions := []string{"owner_id = $1"}
	args := []interface{}{ownerID}
	argPos := 2

	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argPos))
		args = append(args, string(filter.Kind))
		argPos++
	}
	switch filter.Status {
	case "":
	case documents.StatusOverdue:
		conditions = append(conditions, fmt.Sprintf(
			"kind = 'invoice' AND status IN ('sent', 'viewed', 'partial') AND balance_due > 0 AND due_date < $%d", argPos))
		args = append(args, toDate(shared.NewDate(time.Now())))
		argPos++
	default:
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(filter.Status))
		argPos++
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		conditions = append(conditions, fmt.Sprintf("(number ILIKE $%d OR client_name ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+escapeLike(search)+"%")
		argPos++
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM documents "+where, args...).Scan(&total); err != nil {
		return nil, 0, classify("count documents", err)
	}

	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	query := fmt.Sprintf(`SELECT %s FROM documents %s ORDER BY created_at DESC, number DESC LIMIT $%d OFFSET $%d`,
		documentColumns, where, argPos, argPos+1)
	args = append(args, perPage, shared.NewPagination(page, perPage, 0).Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, classify("list documents", err)
	}
	defer rows.Close()

	out := []documents.Document{}
	var ids []uuid.UUID
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, classify("scan document", err)
		}
		out = append(out, *doc)
		ids = append(ids, doc.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list documents", err)
	}
	if len(ids) == 0 {
		return out, total, nil
	}

	items, err := loadItems(ctx, r.db, ids)
	if err != nil {
		return nil, 0, classify("list document items", err)
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, total, nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc documents.Document) (*documents.Document, error) {
	var created *documents.Document
	err := r.atomic(ctx, func(q dbtx) error {
		var err error
		created, err = scanDocument(q.QueryRow(ctx, `
			INSERT INTO documents (
				id, kind, number, owner_id, client_name, client_email, issue_date, due_date,
				status, tax_rate, subtotal, tax_amount, total, balance_due, notes, terms,
				source_quote_id, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1, NOW(), NOW())
			RETURNING `+documentColumns,
			doc.ID, string(doc.Kind), doc.Number, doc.OwnerID, doc.ClientName, doc.ClientEmail,
			toDate(doc.IssueDate), toNullDate(doc.DueDate), string(doc.Status),
			toNumeric(doc.TaxRate), toNumeric(doc.Subtotal), toNumeric(doc.TaxAmount), toNumeric(doc.Total),
			toNumeric(doc.BalanceDue), doc.Notes, doc.Terms, toNullUUID(doc.SourceQuoteID),
		))
		if err != nil {
			return err
		}
		if err := insertItems(ctx, q, doc.ID, doc.Items); err != nil {
			return err
		}
		created.Items = doc.Items
		return nil
	})
	if err != nil {
		return nil, classify("create document", err)
	}
	return created, nil
}

func (r *DocumentRepository) Update(ctx context.Context, doc documents.Document, expectedVersion int64) (*documents.Document, error) {
	var updated *documents.Document
	err := r.atomic(ctx, func(q dbtx) error {
		var err error
		// balance_due on the right-hand side still refers to the stored value.
		updated, err = scanDocument(q.QueryRow(ctx, `
			UPDATE documents SET
				client_name = $3, client_email = $4, issue_date = $5, due_date = $6, status = $7,
				tax_rate = $8, subtotal = $9, tax_amount = $10, total = $11, balance_due = $12,
				notes = $13, terms = $14, sent_at = $15, sent_to = $16,
				payment_link = CASE WHEN balance_due <> $12 THEN '' ELSE payment_link END,
				payment_session_id = CASE WHEN balance_due <> $12 THEN '' ELSE payment_session_id END,
				version = version + 1, updated_at = NOW()
			WHERE id = $1 AND owner_id = $2 AND version = $17
			RETURNING `+documentColumns,
			doc.ID, doc.OwnerID, doc.ClientName, doc.ClientEmail, toDate(doc.IssueDate), toNullDate(doc.DueDate),
			string(doc.Status), toNumeric(doc.TaxRate), toNumeric(doc.Subtotal), toNumeric(doc.TaxAmount),
			toNumeric(doc.Total), toNumeric(doc.BalanceDue), doc.Notes, doc.Terms, toNullTime(doc.SentAt),
			doc.SentTo, expectedVersion,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return missOrConflict(ctx, q, doc.OwnerID, doc.ID)
		}
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `DELETE FROM document_items WHERE document_id = $1`, doc.ID); err != nil {
			return err
		}
		if err := insertItems(ctx, q, doc.ID, doc.Items); err != nil {
			return err
		}
		updated.Items = doc.Items
		return nil
	})
	if err != nil {
		return nil, classify("update document", err)
	}
	return updated, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return classify("delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) NextNumber(ctx context.Context, ownerID uuid.UUID, kind documents.Kind) (string, error) {
	var seq int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO document_counters (owner_id, kind, last_value) VALUES ($1, $2, 1)
		ON CONFLICT (owner_id, kind) DO UPDATE SET last_value = document_counters.last_value + 1
		RETURNING last_value`, ownerID, string(kind)).Scan(&seq)
	if err != nil {
		return "", classify("next number", err)
	}
	return documents.FormatNumber(kind, seq), nil
}

func (r *DocumentRepository) ApplyBalance(ctx context.Context, update documents.BalanceUpdate) (*documents.Document, error) {
	var updated *documents.Document
	err := r.atomic(ctx, func(q dbtx) error {
		var err error
		updated, err = scanDocument(q.QueryRow(ctx, `
			UPDATE documents SET
				balance_due = $3, status = $4, payment_link = '', payment_session_id = '',
				version = version + 1, updated_at = NOW()
			WHERE id = $1 AND owner_id = $2 AND kind = 'invoice' AND version = $5
			RETURNING `+documentColumns,
			update.ID, update.OwnerID, toNumeric(update.BalanceDue), string(update.Status), update.Version,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return missOrConflict(ctx, q, update.OwnerID, update.ID)
		}
		if err != nil {
			return err
		}
		items, err := loadItems(ctx, q, []uuid.UUID{update.ID})
		if err != nil {
			return err
		}
		updated.Items = items[update.ID]
		return nil
	})
	if err != nil {
		return nil, classify("apply balance", err)
	}
	return updated, nil
}

func (r *DocumentRepository) SetPaymentLink(ctx context.Context, ownerID, id uuid.UUID, expectedVersion int64, url, sessionID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE documents SET payment_link = $3, payment_session_id = $4
		WHERE id = $1 AND owner_id = $2 AND version = $5`, id, ownerID, url, sessionID, expectedVersion)
	if err != nil {
		return classify("set payment link", err)
	}
	if tag.RowsAffected() == 0 {
		return classify("set payment link", missOrConflict(ctx, r.db, ownerID, id))
	}
	return nil
}

func (r *DocumentRepository) SetPDFKey(ctx context.Context, ownerID, id uuid.UUID, key string) error {
	tag, err := r.db.Exec(ctx, `UPDATE documents SET pdf_key = $3 WHERE id = $1 AND owner_id = $2`, id, ownerID, key)
	if err != nil {
		return classify("set pdf key", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) HasCompletedPayments(ctx context.Context, ownerID, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payments WHERE owner_id = $1 AND invoice_id = $2 AND status = 'completed'
		)`, ownerID, id).Scan(&exists)
	if err != nil {
		return false, classify("check payments", err)
	}
	return exists, nil
}

func (r *DocumentRepository) Summary(ctx context.Context, ownerID uuid.UUID, now time.Time) (documents.Summary, error) {
	const open = `kind = 'invoice' AND status IN ('sent', 'viewed', 'partial') AND balance_due > 0`
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'draft'),
			COUNT(*) FILTER (WHERE kind = 'quote' AND status IN ('sent', 'viewed')),
			COALESCE(SUM(total) FILTER (WHERE kind = 'quote' AND status IN ('sent', 'viewed')), 0),
			COUNT(*) FILTER (WHERE kind = 'invoice' AND status = 'paid'),
			COALESCE(SUM(total) FILTER (WHERE kind = 'invoice' AND status = 'paid'), 0),
			COUNT(*) FILTER (WHERE ` + open + `),
			COALESCE(SUM(balance_due) FILTER (WHERE ` + open + `), 0),
			COUNT(*) FILTER (WHERE ` + open + ` AND due_date < $2),
			COALESCE(SUM(balance_due) FILTER (WHERE ` + open + ` AND due_date < $2), 0)
		FROM documents WHERE owner_id = $1`

	var (
		s                                       documents.Summary
		quoteTotal, paidTotal, outstanding, due pgtype.Numeric
	)
	err := r.db.QueryRow(ctx, query, ownerID, toDate(shared.NewDate(now))).Scan(
		&s.DraftCount,
		&s.OpenQuoteCount, &quoteTotal,
		&s.PaidCount, &paidTotal,
		&s.OutstandingCount, &outstanding,
		&s.OverdueCount, &due,
	)
	if err != nil {
		return documents.Summary{}, classify("summary", err)
	}
	s.OpenQuoteTotal = fromNumeric(quoteTotal)
	s.PaidTotal = fromNumeric(paidTotal)
	s.OutstandingTotal = fromNumeric(outstanding)
	s.OverdueTotal = fromNumeric(due)
	return s, nil
}

// missOrConflict tells a missing row apart from a stale version after a guarded write matched nothing.
func missOrConflict(ctx context.Context, q dbtx, ownerID, id uuid.UUID) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1 AND owner_id = $2)`, id, ownerID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return shared.ErrNotFound
	}
	return shared.ErrConflict
}

func insertItems(ctx context.Context, q dbtx, documentID uuid.UUID, items []documents.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
			INSERT INTO document_items (id, document_id, position, description, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, documentID, item.Position, item.Description,
			toNumeric(item.Quantity), toNumeric(item.UnitPrice), toNumeric(item.LineTotal))
	}
	results := q.SendBatch(ctx, batch)
	for range items {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

func loadItems(ctx context.Context, q dbtx, documentIDs []uuid.UUID) (map[uuid.UUID][]documents.LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, document_id, position, description, quantity, unit_price, line_total
		FROM document_items WHERE document_id = ANY($1)
		ORDER BY document_id, position`, documentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]documents.LineItem, len(documentIDs))
	for rows.Next() {
		var (
			item                       documents.LineItem
			documentID                 uuid.UUID
			quantity, price, lineTotal pgtype.Numeric
		)
		if err := rows.Scan(&item.ID, &documentID, &item.Position, &item.Description, &quantity, &price, &lineTotal); err != nil {
			return nil, err
		}
		item.Quantity = fromNumeric(quantity)
		item.UnitPrice = fromNumeric(price)
		item.LineTotal = fromNumeric(lineTotal)
		out[documentID] = append(out[documentID], item)
	}
	return out, rows.Err()
}

func scanDocument(row pgx.Row) (*documents.Document, error) {
	var (
		doc                                 documents.Document
		kind, status                        string
		issueDate, dueDate                  pgtype.Date
		taxRate, subtotal, taxAmount, total pgtype.Numeric
		balance                             pgtype.Numeric
		sentAt                              pgtype.Timestamptz
		sourceQuote                         pgtype.UUID
	)
	err := row.Scan(
		&doc.ID, &kind, &doc.Number, &doc.OwnerID, &doc.ClientName, &doc.ClientEmail, &issueDate, &dueDate,
		&status, &taxRate, &subtotal, &taxAmount, &total, &balance, &doc.Notes, &doc.Terms, &sentAt, &doc.SentTo,
		&doc.PDFKey, &doc.PaymentLink, &doc.PaymentSessionID, &sourceQuote, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Kind = documents.Kind(kind)
	doc.Status = documents.Status(status)
	if issueDate.Valid {
		doc.IssueDate = shared.NewDate(issueDate.Time)
	}
	doc.DueDate = fromNullDate(dueDate)
	doc.TaxRate = fromNumeric(taxRate)
	doc.Subtotal = fromNumeric(subtotal)
	doc.TaxAmount = fromNumeric(taxAmount)
	doc.Total = fromNumeric(total)
	doc.BalanceDue = fromNumeric(balance)
	doc.SentAt = fromNullTime(sentAt)
	doc.SourceQuoteID = fromNullUUID(sourceQuote)
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	doc.Items = []documents.LineItem{}
	return &doc, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
