// Package memory is an in-process implementation of the document, payment and profile ports, used by tests
// and local development. A transaction holds the store exclusively and restores its snapshot when
// the callback fails.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/profile"
)

type counterKey struct {
	owner uuid.UUID
	kind  documents.Kind
}

type dataset struct {
	docs       map[uuid.UUID]documents.Document
	payments   map[uuid.UUID]payments.Payment
	byExternal map[string]uuid.UUID
	counters   map[counterKey]int64
}

func newDataset() *dataset {
	return &dataset{
		docs:       make(map[uuid.UUID]documents.Document),
		payments:   make(map[uuid.UUID]payments.Payment),
		byExternal: make(map[string]uuid.UUID),
		counters:   make(map[counterKey]int64),
	}
}

func (d *dataset) clone() *dataset {
	out := newDataset()
	for id, doc := range d.docs {
		out.docs[id] = doc.Clone()
	}
	for id, p := range d.payments {
		out.payments[id] = p
	}
	for k, v := range d.byExternal {
		out.byExternal[k] = v
	}
	for k, v := range d.counters {
		out.counters[k] = v
	}

	return out
}

// Store owns the data shared by the repositories it hands out.
type Store struct {
	mu       sync.Mutex
	data     *dataset
	now      func() time.Time
	profiles *ProfileRepository
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data:     newDataset(),
		now:      time.Now,
		profiles: &ProfileRepository{rows: make(map[uuid.UUID]profile.Profile)},
	}
}

// Documents returns the document repository.
func (s *Store) Documents() *DocumentRepository {
	return &DocumentRepository{store: s}
}

// Payments returns the payment ledger.
func (s *Store) Payments() *PaymentLedger {
	return &PaymentLedger{store: s}
}

// Profiles returns the business profile repository.
func (s *Store) Profiles() *ProfileRepository {
	return s.profiles
}

// WithinTx implements payments.UnitOfWork.
func (s *Store) WithinTx(ctx context.Context, fn func(context.Context, payments.Ledger, payments.InvoiceStore) error) error {
	return s.transact(ctx, func(ctx context.Context) error {
		return fn(ctx, &PaymentLedger{store: s, inTx: true}, &DocumentRepository{store: s, inTx: true})
	})
}

func (s *Store) transact(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	if err := fn(ctx); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// with runs fn against the dataset, taking the store lock unless the caller already holds it
// through a transaction.
func (s *Store) with(ctx context.Context, inTx bool, fn func(*dataset) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.data)
}
