package documents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/buildledger/buildledger/internal/shared"
)

// TaxDefaults supplies the rate a new document starts with when the request names none.
type TaxDefaults interface {
	DefaultTaxRate(ctx context.Context, ownerID uuid.UUID) (decimal.Decimal, error)
}

// Service orchestrates document workflows.
type Service struct {
	repo     Repository
	renderer Renderer
	blobs    BlobStore
	notifier Notifier
	defaults TaxDefaults
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithTaxDefaults fills in the owner's default tax rate on create.
func WithTaxDefaults(defaults TaxDefaults) ServiceOption {
	return func(s *Service) { s.defaults = defaults }
}

// NewService constructs the document service.
func NewService(repo Repository, renderer Renderer, blobs BlobStore, notifier Notifier, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:     repo,
		renderer: renderer,
		blobs:    blobs,
		notifier: notifier,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new draft document with a fresh sequential number.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, in CreateInput) (*Document, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	taxRate, err := s.taxRate(ctx, ownerID, in.TaxRate)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	doc := Document{
		ID:          uuid.New(),
		Kind:        in.Kind,
		OwnerID:     ownerID,
		ClientName:  in.ClientName,
		ClientEmail: in.ClientEmail,
		IssueDate:   in.IssueDate,
		DueDate:     in.DueDate,
		Status:      StatusDraft,
		TaxRate:     taxRate,
		Notes:       in.Notes,
		Terms:       in.Terms,
		Items:       itemsFromInput(in.Items),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if doc.IssueDate.IsZero() {
		doc.IssueDate = shared.NewDate(now)
	}
	if err := validateDates(doc.IssueDate, doc.DueDate); err != nil {
		return nil, err
	}
	if err := doc.Recalculate(); err != nil {
		return nil, err
	}

	var created *Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		number, err := repo.NextNumber(ctx, ownerID, doc.Kind)
		if err != nil {
			return fmt.Errorf("next number: %w", err)
		}
		doc.Number = number
		created, err = repo.Create(ctx, doc)
		if err != nil {
			return fmt.Errorf("create %s: %w", doc.Kind, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.decorate(created)
	return created, nil
}

// Update applies a patch to a draft document, recomputing totals when items or tax rate change.
func (s *Service) Update(ctx context.Context, ownerID uuid.UUID, kind Kind, id uuid.UUID, patch Patch) (*Document, error) {
	if err := s.validate.Struct(patch); err != nil {
		return nil, err
	}
	var updated *Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		doc, err := s.lockOwned(ctx, repo, ownerID, kind, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return shared.NewValidationError("status", "only draft documents can be edited")
		}
		if patch.Version != nil && *patch.Version != doc.Version {
			return shared.ErrConflict
		}
		if patch.ClientName != nil {
			doc.ClientName = *patch.ClientName
		}
		if patch.ClientEmail != nil {
			doc.ClientEmail = *patch.ClientEmail
		}
		if patch.IssueDate != nil {
			doc.IssueDate = *patch.IssueDate
		}
		if patch.DueDate != nil {
			due := *patch.DueDate
			doc.DueDate = &due
		}
		if patch.Notes != nil {
			doc.Notes = *patch.Notes
		}
		if patch.Terms != nil {
			doc.Terms = *patch.Terms
		}
		if patch.TaxRate != nil {
			doc.TaxRate = *patch.TaxRate
		}
		if patch.Items != nil {
			doc.Items = itemsFromInput(*patch.Items)
		}
		if err := validateDates(doc.IssueDate, doc.DueDate); err != nil {
			return err
		}
		if err := doc.Recalculate(); err != nil {
			return err
		}
		doc.UpdatedAt = s.now().UTC()
		updated, err = repo.Update(ctx, *doc, doc.Version)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.decorate(updated)
	return updated, nil
}

// Delete removes a document unless it is an invoice with completed payments.
func (s *Service) Delete(ctx context.Context, ownerID uuid.UUID, kind Kind, id uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		doc, err := s.lockOwned(ctx, repo, ownerID, kind, id)
		if err != nil {
			return err
		}
		if doc.IsInvoice() {
			paid, err := repo.HasCompletedPayments(ctx, ownerID, id)
			if err != nil {
				return err
			}
			if paid {
				return &shared.InvalidTransitionError{Kind: string(doc.Kind), From: string(doc.Status), To: "deleted"}
			}
		}
		return repo.Delete(ctx, ownerID, id)
	})
}

// Get loads one owned document.
func (s *Service) Get(ctx context.Context, ownerID uuid.UUID, kind Kind, id uuid.UUID) (*Document, error) {
	doc, err := s.repo.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if kind != "" && doc.Kind != kind {
		return nil, shared.ErrNotFound
	}
	s.decorate(doc)
	return doc, nil
}

// List returns a page of owned documents plus the total match count.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID, filter ListFilter) ([]Document, shared.Pagination, error) {
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	docs, total, err := s.repo.List(ctx, ownerID, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	for i := range docs {
		s.decorate(&docs[i])
	}
	return docs, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Transition applies a user-driven status change.
func (s *Service) Transition(ctx context.Context, ownerID uuid.UUID, kind Kind, id uuid.UUID, to Status) (*Document, error) {
	var updated *Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		doc, err := s.lockOwned(ctx, repo, ownerID, kind, id)
		if err != nil {
			return err
		}
		if err := Transition(doc.Kind, doc.Status, to, TriggerUser); err != nil {
			return err
		}
		doc.Status = to
		doc.UpdatedAt = s.now().UTC()
		updated, err = repo.Update(ctx, *doc, doc.Version)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.decorate(updated)
	return updated, nil
}

// Send renders and emails a document, then records the delivery. The status write happens only
// after the email was accepted; any failure rolls the whole operation back.
func (s *Service) Send(ctx context.Context, ownerID uuid.UUID, in SendInput) (*Document, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	var updated *Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		doc, err := s.lockOwned(ctx, repo, ownerID, in.Kind, in.ID)
		if err != nil {
			return err
		}
		next := SendTarget(doc.Status)
		if err := Transition(doc.Kind, doc.Status, next, TriggerSend); err != nil {
			return err
		}
		recipient := in.Recipient
		if recipient == "" {
			recipient = doc.ClientEmail
		}

		pdf, key, err := s.documentPDF(ctx, doc)
		if err != nil {
			return err
		}
		if key != doc.PDFKey {
			if err := repo.SetPDFKey(ctx, ownerID, doc.ID, key); err != nil {
				return fmt.Errorf("store pdf key: %w", err)
			}
			doc.PDFKey = key
		}

		if err := s.notifier.SendDocument(ctx, Delivery{Document: doc, Recipient: recipient, PDF: pdf}); err != nil {
			return shared.Transient(fmt.Sprintf("dispatch %s email", doc.Kind), err)
		}

		now := s.now().UTC()
		doc.Status = next
		doc.SentAt = &now
		doc.SentTo = recipient
		doc.UpdatedAt = now
		updated, err = repo.Update(ctx, *doc, doc.Version)
		return err
	})
	if err != nil {
		s.logger.Warn("document send failed",
			slog.String("document_id", in.ID.String()),
			slog.String("kind", string(in.Kind)),
			slog.Any("error", err),
		)
		return nil, err
	}
	s.logger.Info("document sent",
		slog.String("document_id", updated.ID.String()),
		slog.String("number", updated.Number),
		slog.String("status", string(updated.Status)),
	)
	s.decorate(updated)
	return updated, nil
}

// ConvertQuote creates a draft invoice from an accepted quote.
func (s *Service) ConvertQuote(ctx context.Context, ownerID, quoteID uuid.UUID, in ConvertInput) (*Document, error) {
	var created *Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		quote, err := s.lockOwned(ctx, repo, ownerID, KindQuote, quoteID)
		if err != nil {
			return err
		}
		if quote.Status != StatusAccepted {
			return &shared.InvalidTransitionError{Kind: string(KindQuote), From: string(quote.Status), To: "converted"}
		}
		now := s.now().UTC()
		invoice := Document{
			ID:            uuid.New(),
			Kind:          KindInvoice,
			OwnerID:       ownerID,
			ClientName:    quote.ClientName,
			ClientEmail:   quote.ClientEmail,
			IssueDate:     shared.NewDate(now),
			DueDate:       in.DueDate,
			Status:        StatusDraft,
			TaxRate:       quote.TaxRate,
			Notes:         quote.Notes,
			Terms:         quote.Terms,
			SourceQuoteID: &quote.ID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		for _, item := range quote.Items {
			invoice.Items = append(invoice.Items, LineItem{
				Description: item.Description,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
			})
		}
		if err := validateDates(invoice.IssueDate, invoice.DueDate); err != nil {
			return err
		}
		if err := invoice.Recalculate(); err != nil {
			return err
		}
		invoice.Number, err = repo.NextNumber(ctx, ownerID, KindInvoice)
		if err != nil {
			return fmt.Errorf("next number: %w", err)
		}
		created, err = repo.Create(ctx, invoice)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.decorate(created)
	return created, nil
}

// Summary returns the owner's dashboard aggregate.
func (s *Service) Summary(ctx context.Context, ownerID uuid.UUID) (Summary, error) {
	return s.repo.Summary(ctx, ownerID, s.now().UTC())
}

// PDF returns the rendered document, rendering and caching it when needed.
func (s *Service) PDF(ctx context.Context, ownerID uuid.UUID, kind Kind, id uuid.UUID) ([]byte, *Document, error) {
	doc, err := s.Get(ctx, ownerID, kind, id)
	if err != nil {
		return nil, nil, err
	}
	pdf, key, err := s.documentPDF(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	if key != doc.PDFKey {
		if err := s.repo.SetPDFKey(ctx, ownerID, doc.ID, key); err != nil {
			s.logger.Warn("store pdf key", slog.String("document_id", doc.ID.String()), slog.Any("error", err))
		} else {
			doc.PDFKey = key
		}
	}
	return pdf, doc, nil
}

func (s *Service) lockOwned(ctx context.Context, repo Repository, ownerID uuid.UUID, kind Kind, id uuid.UUID) (*Document, error) {
	doc, err := repo.GetForUpdate(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if kind != "" && doc.Kind != kind {
		return nil, shared.ErrNotFound
	}
	return doc, nil
}

// PDFKey names the cached rendering of one document version.
func PDFKey(doc *Document) string {
	return fmt.Sprintf("documents/%s/%s-v%d.pdf", doc.OwnerID, doc.ID, doc.Version)
}

func (s *Service) documentPDF(ctx context.Context, doc *Document) ([]byte, string, error) {
	key := PDFKey(doc)
	ok, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return nil, "", shared.Transient("check pdf cache", err)
	}
	if ok {
		pdf, err := s.blobs.Get(ctx, key)
		if err == nil {
			return pdf, key, nil
		}
		s.logger.Warn("cached pdf unreadable, re-rendering", slog.String("key", key), slog.Any("error", err))
	}
	pdf, err := s.renderer.Render(ctx, doc)
	if err != nil {
		return nil, "", shared.Transient("render pdf", err)
	}
	if err := s.blobs.Put(ctx, key, pdf); err != nil {
		return nil, "", shared.Transient("store pdf", err)
	}
	return pdf, key, nil
}

func (s *Service) taxRate(ctx context.Context, ownerID uuid.UUID, requested *decimal.Decimal) (decimal.Decimal, error) {
	if requested != nil {
		return *requested, nil
	}
	if s.defaults == nil {
		return decimal.Zero, nil
	}
	rate, err := s.defaults.DefaultTaxRate(ctx, ownerID)
	if err != nil {
		return decimal.Zero, shared.Transient("load default tax rate", err)
	}
	return rate, nil
}

func (s *Service) decorate(doc *Document) {
	if doc == nil {
		return
	}
	doc.DisplayStatus = DisplayStatus(doc, s.now())
}

func validateDates(issue shared.Date, due *shared.Date) error {
	if due != nil && !due.IsZero() && due.Before(issue.Time) {
		return shared.NewValidationError("due_date", "must not be before issue_date")
	}
	return nil
}
