package documents

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/buildledger/buildledger/internal/money"
	"github.com/buildledger/buildledger/internal/shared"
)

// Kind distinguishes quotes from invoices.
type Kind string

const (
	KindQuote   Kind = "quote"
	KindInvoice Kind = "invoice"
)

// Valid reports whether k is a known document kind.
func (k Kind) Valid() bool {
	return k == KindQuote || k == KindInvoice
}

// NumberPrefix is the human document number prefix per kind.
func (k Kind) NumberPrefix() string {
	if k == KindInvoice {
		return "INV"
	}
	return "QT"
}

// ParseKind accepts singular and plural route segments.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "quote", "quotes":
		return KindQuote, true
	case "invoice", "invoices":
		return KindInvoice, true
	}
	return "", false
}

// Status enumerates lifecycle states. Overdue is display-only and never persisted.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusViewed   Status = "viewed"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusPartial  Status = "partial"
	StatusPaid     Status = "paid"
	StatusOverdue  Status = "overdue"
)

// LineItem is a single billable line owned by its document.
type LineItem struct {
	ID          uuid.UUID       `json:"id"`
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Document is the quote/invoice aggregate.
type Document struct {
	ID               uuid.UUID       `json:"id"`
	Kind             Kind            `json:"type"`
	Number           string          `json:"number"`
	OwnerID          uuid.UUID       `json:"-"`
	ClientName       string          `json:"client_name"`
	ClientEmail      string          `json:"client_email"`
	IssueDate        shared.Date     `json:"issue_date"`
	DueDate          *shared.Date    `json:"due_date,omitempty"`
	Status           Status          `json:"status"`
	DisplayStatus    Status          `json:"display_status,omitempty"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	Total            decimal.Decimal `json:"total"`
	BalanceDue       decimal.Decimal `json:"balance_due"`
	Notes            string          `json:"notes,omitempty"`
	Terms            string          `json:"terms,omitempty"`
	Items            []LineItem      `json:"items"`
	SentAt           *time.Time      `json:"sent_at,omitempty"`
	SentTo           string          `json:"sent_to,omitempty"`
	PDFKey           string          `json:"-"`
	PaymentLink      string          `json:"payment_link,omitempty"`
	PaymentSessionID string          `json:"-"`
	SourceQuoteID    *uuid.UUID      `json:"source_quote_id,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsInvoice reports whether the document carries a balance.
func (d *Document) IsInvoice() bool {
	return d.Kind == KindInvoice
}

// Recalculate derives line totals, subtotal, tax and total from items and tax rate.
// For a draft invoice the balance follows the new total.
func (d *Document) Recalculate() error {
	calc := make([]money.Item, len(d.Items))
	for i, item := range d.Items {
		calc[i] = money.Item{Quantity: item.Quantity, UnitPrice: item.UnitPrice}
	}
	totals, err := money.ComputeTotals(calc, d.TaxRate)
	if err != nil {
		return err
	}
	for i := range d.Items {
		d.Items[i].Position = i + 1
		d.Items[i].LineTotal = money.LineTotal(calc[i])
		if d.Items[i].ID == uuid.Nil {
			d.Items[i].ID = uuid.New()
		}
	}
	d.Subtotal = totals.Subtotal
	d.TaxAmount = totals.TaxAmount
	d.Total = totals.Total
	if d.IsInvoice() && d.Status == StatusDraft {
		d.BalanceDue = totals.Total
	}
	return nil
}

// Clone returns a deep copy safe to mutate.
func (d Document) Clone() Document {
	out := d
	out.Items = append([]LineItem(nil), d.Items...)
	if d.DueDate != nil {
		due := *d.DueDate
		out.DueDate = &due
	}
	if d.SentAt != nil {
		sent := *d.SentAt
		out.SentAt = &sent
	}
	if d.SourceQuoteID != nil {
		src := *d.SourceQuoteID
		out.SourceQuoteID = &src
	}
	return out
}

// FormatNumber renders the sequential document number, e.g. INV-0007.
func FormatNumber(kind Kind, seq int64) string {
	return fmt.Sprintf("%s-%04d", kind.NumberPrefix(), seq)
}

// ListFilter narrows owner-scoped listings.
type ListFilter struct {
	Kind    Kind
	Status  Status
	Search  string
	Page    int
	PerPage int
}

// BalanceUpdate is the single write reconciliation performs on an invoice.
type BalanceUpdate struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Version    int64
	BalanceDue decimal.Decimal
	Status     Status
}

// Summary aggregates an owner's open work for the dashboard.
type Summary struct {
	OutstandingCount int             `json:"outstanding_count"`
	OutstandingTotal decimal.Decimal `json:"outstanding_total"`
	OverdueCount     int             `json:"overdue_count"`
	OverdueTotal     decimal.Decimal `json:"overdue_total"`
	PaidCount        int             `json:"paid_count"`
	PaidTotal        decimal.Decimal `json:"paid_total"`
	OpenQuoteCount   int             `json:"open_quote_count"`
	OpenQuoteTotal   decimal.Decimal `json:"open_quote_total"`
	DraftCount       int             `json:"draft_count"`
}

// Tally folds one document into the summary.
func (s *Summary) Tally(doc *Document, now time.Time) {
	if doc.Status == StatusDraft {
		s.DraftCount++
		return
	}
	if doc.Kind == KindQuote {
		if doc.Status == StatusSent || doc.Status == StatusViewed {
			s.OpenQuoteCount++
			s.OpenQuoteTotal = s.OpenQuoteTotal.Add(doc.Total)
		}
		return
	}
	switch doc.Status {
	case StatusPaid:
		s.PaidCount++
		s.PaidTotal = s.PaidTotal.Add(doc.Total)
	case StatusSent, StatusViewed, StatusPartial:
		if !doc.BalanceDue.IsPositive() {
			return
		}
		s.OutstandingCount++
		s.OutstandingTotal = s.OutstandingTotal.Add(doc.BalanceDue)
		if DisplayStatus(doc, now) == StatusOverdue {
			s.OverdueCount++
			s.OverdueTotal = s.OverdueTotal.Add(doc.BalanceDue)
		}
	}
}
