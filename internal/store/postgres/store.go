// Package postgres implements the document, payment and profile ports on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/platform/db"
	"github.com/buildledger/buildledger/internal/shared"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// Writers serialise on row locks and version checks.
var txOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// Store hands out repositories sharing one pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Documents returns the document repository.
func (s *Store) Documents() *DocumentRepository {
	return &DocumentRepository{db: s.pool, pool: s.pool}
}

// Payments returns the payment ledger.
func (s *Store) Payments() *PaymentLedger {
	return &PaymentLedger{db: s.pool}
}

// Profiles returns the business profile repository.
func (s *Store) Profiles() *ProfileRepository {
	return &ProfileRepository{db: s.pool}
}

// WithinTx implements payments.UnitOfWork.
func (s *Store) WithinTx(ctx context.Context, fn func(context.Context, payments.Ledger, payments.InvoiceStore) error) error {
	err := db.WithTxOptions(ctx, s.pool, txOptions, func(tx pgx.Tx) error {
		return fn(ctx, &PaymentLedger{db: tx}, &DocumentRepository{db: tx, pool: s.pool, inTx: true})
	})
	return classify("reconcile tx", err)
}

// classify maps driver errors onto the shared taxonomy. Errors that already carry a domain
// meaning pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrConflict) ||
		shared.IsValidation(err) || shared.IsAuthorization(err) || shared.IsInvalidTransition(err) ||
		shared.IsDuplicateExternalID(err) || shared.IsTransient(err) ||
		errors.Is(err, payments.ErrInvalidPaymentTransition) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return shared.ErrConflict
		case "23505":
			return fmt.Errorf("%s: %w", op, shared.ErrConflict)
		case "57P01", "57P02", "57P03", "53300":
			return shared.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return shared.Transient(op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return shared.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
