package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/shared"
)

// DocumentRepository implements documents.Repository.
type DocumentRepository struct {
	store *Store
	inTx  bool
}

var _ documents.Repository = (*DocumentRepository)(nil)

func (r *DocumentRepository) WithTx(ctx context.Context, fn func(context.Context, documents.Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	return r.store.transact(ctx, func(ctx context.Context) error {
		return fn(ctx, &DocumentRepository{store: r.store, inTx: true})
	})
}

func (r *DocumentRepository) Get(ctx context.Context, ownerID, id uuid.UUID) (*documents.Document, error) {
	var out *documents.Document
	err := r.store.with(ctx, r.inTx, func(d *dataset) error {
		doc, ok := d.docs[id]
		if !ok || doc.OwnerID != ownerID {
			return shared.ErrNotFound
		}
		c := doc.Clone()
		out = &c
		return nil
	})
	return out, err
}

func (r *DocumentRepository) GetForUpdate(ctx context.Context, ownerID, id uuid.UUID) (*documents.Document, error) {
	return r.Get(ctx, ownerID, id)
}

func (r *DocumentRepository) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*documents.Document, error) {
	var out *documents.Document
	err := r.store.with(ctx, r.inTx, func(d *dataset) error {
		doc, ok := d.docs[id]
		if !ok {
			return shared.ErrNotFound
		}
		c := doc.Clone()
		out = &c
		return nil
	})
	return out, err
}

func (r *DocumentRepository) List(ctx context.Context, ownerID uuid.UUID, filter documents.ListFilter) ([]documents.Document, int, error) {
	var (
		page  []documents.Document
		total int
	)
	now := r.store.now()
	err := r.store.with(ctx, r.inTx, func(d *dataset) error {
		search := strings.ToLower(strings.TrimSpace(filter.Search))
		var matched []documents.Document
		for _, doc := range d.docs {
			if doc.OwnerID != ownerID {
				continue
			}
			if filter.Kind != "" && doc.Kind != filter.Kind {
				continue
			}
			if filter.Status == documents.StatusOverdue {
				if documents.DisplayStatus(&doc, now) != documents.StatusOverdue {
					continue
				}
			} else if filter.Status != "" && doc.Status != filter.Status {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(doc.Number), search) &&
				!strings.Contains(strings.ToLower(doc.ClientName), search) {
				continue
			}
			matched = append(matched, doc.Clone())
		}
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].Number > matched[j].Number
			}
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		})
		total = len(matched)
		p, per := shared.NormalizePage(filter.Page, filter.PerPage)
		start := (p - 1) * per
		if start >= len(matched) {
			page = []documents.Document{}
			return nil
		}
		end := start + per
		if end > len(matched) {
			end = len(matched)
		}
		page = matched[start:end]
		return nil
	})
	return page, total, err
}

func (r *DocumentRepository) Create(ctx context.Context, doc documents.Document) (*documents.Document, error) {
	var out *documents.Document
	err := r.store.with(ctx, r.inTx, func(d *dataset) error {
		if _, exists := d.docs[doc.ID]; exists {
			return shared.ErrConflict
		}
		now := r.store.now().UTC()
		doc.Version = 1
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		doc.UpdatedAt = doc.CreatedAt
		d.docs[doc.ID] = doc.Clone()
		c := doc.Clone()
		out = &c
		return nil
	})
	return out, err
}

func (r *DocumentRepository) Update(ctx context.Context, doc documents.Document, expectedVersion int64) (*documents.Document, error) {
	var out *documents.Document
	err := r.store.with(ctx, r.inTx, func(d *dataset) error {
		stored, ok := d.docs[doc.ID]
		if !ok || stored.OwnerID != doc.OwnerID {
			return shared.ErrNotFound
		}
		if stored.Version != expectedVersion {
			return shared.ErrConflict
		}
		next := doc.Clone()
		next.Kind = stored.Kind
		next.Number = stored.Number
		next.CreatedAt = stored.CreatedAt
		next.PDFKey = stored.PDFKey
		next.PaymentLink = stored.PaymentLink
		next.PaymentSessionID = stored.PaymentSessionID
		if !next.BalanceDue.Equal(stored.BalanceDue) {
			next.PaymentLink = ""
			next.PaymentSessionID = ""
		}
		next.Version = stored.Version + 1
		next.UpdatedAt = r.store.now().UTC()
		next.DisplayStatus = ""
		d.docs[doc.ID] = next
		c := next.Clone()
		out = &c
		return nil
	})
	return out, err
}

func (r *DocumentRepository) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	return r.store.with(ctx, r.inTx, func(d *dataset) error {
		doc, ok := d.docs[id]
		if !ok || doc.OwnerID != ownerID {
			return shared.ErrNotFound
		}
		delete(d.docs, id)
		return nil
	})
}

func (r *DocumentRepository) NextNumber(ctx context.Context, ownerID uuid.UUID, kind documents.Kind) (string, error) {
	var number string
	err := r.store.with(ctx, r.inTx, func(d *dataset) error {
		key := counterKey{owner: ownerID, kind: kind}
		d.counters[key]++
		number = documents.FormatNumber(kind, d.counters[key])
		return nil
	})
	return number, err
}

func (r *DocumentRepository) ApplyBalance(ctx context.Context, update documents.BalanceUpdate) (*documents.Document, error) {
	var out *documents.Document
	err := r.store.with(ctx, r.inTx, func(d *dataset) error {
		stored, ok := d.docs[update.ID]
		if !ok || stored.OwnerID != update.OwnerID || stored.Kind != documents.KindInvoice {
			return shared.ErrNotFound
		}
		if stored.Version != update.Version {
			return shared.ErrConflict
		}
		stored.BalanceDue = update.BalanceDue
		stored.Status = update.Status
		stored.PaymentLink = ""
		stored.PaymentSessionID = ""
		stored.Version++
		stored.UpdatedAt = r.store.now().UTC()
		d.docs[update.ID] = stored
		c := stored.Clone()
		out = &c
		return nil
	})
	return out, err
}

func (r *DocumentRepository) SetPaymentLink(ctx context.Context, ownerID, id uuid.UUID, expectedVersion int64, url, sessionID string) error {
	return r.store.with(ctx, r.inTx, func(d *dataset) error {
		stored, ok := d.docs[id]
		if !ok || stored.OwnerID != ownerID {
			return shared.ErrNotFound
		}
		if stored.Version != expectedVersion {
			return shared.ErrConflict
		}
		stored.PaymentLink = url
		stored.PaymentSessionID = sessionID
		d.docs[id] = stored
		return nil
	})
}

func (r *DocumentRepository) SetPDFKey(ctx context.Context, ownerID, id uuid.UUID, key string) error {
	return r.store.with(ctx, r.inTx, func(d *dataset) error {
		stored, ok := d.docs[id]
		if !ok || stored.OwnerID != ownerID {
			return shared.ErrNotFound
		}
		stored.PDFKey = key
		d.docs[id] = stored
		return nil
	})
}

func (r *DocumentRepository) HasCompletedPayments(ctx context.Context, ownerID, id uuid.UUID) (bool, error) {
	var found bool
	err := r.store.with(ctx, r.inTx, func(d *dataset) error {
		for _, p := range d.payments {
			if p.OwnerID == ownerID && p.InvoiceID == id && p.Status == payments.StatusCompleted {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *DocumentRepository) Summary(ctx context.Context, ownerID uuid.UUID, now time.Time) (documents.Summary, error) {
	var summary documents.Summary
	err := r.store.with(ctx, r.inTx, func(d *dataset) error {
		for _, doc := range d.docs {
			if doc.OwnerID != ownerID {
				continue
			}
			summary.Tally(&doc, now)
		}
		return nil
	})
	return summary, err
}
