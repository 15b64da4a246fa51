package report

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/money"
	"github.com/buildledger/buildledger/internal/profile"
	"github.com/buildledger/buildledger/internal/shared"
)

//go:embed templates/*.html
var templateFS embed.FS

// HTMLConverter turns an HTML page into a PDF.
type HTMLConverter interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// DocumentRenderer implements documents.Renderer on top of an HTML template and Gotenberg.
type DocumentRenderer struct {
	converter HTMLConverter
	tpl       *template.Template
	format    money.Formatter
	profiles  profile.Reader
}

var _ documents.Renderer = (*DocumentRenderer)(nil)

// RendererOption customises a DocumentRenderer.
type RendererOption func(*DocumentRenderer)

// WithProfiles prints the owner's business details in the document header.
func WithProfiles(profiles profile.Reader) RendererOption {
	return func(r *DocumentRenderer) { r.profiles = profiles }
}

// NewDocumentRenderer parses the embedded template.
func NewDocumentRenderer(converter HTMLConverter, currencyCode string, opts ...RendererOption) (*DocumentRenderer, error) {
	tpl, err := template.ParseFS(templateFS, "templates/document.html")
	if err != nil {
		return nil, fmt.Errorf("report: parse document template: %w", err)
	}
	r := &DocumentRenderer{converter: converter, tpl: tpl, format: money.NewFormatter(currencyCode)}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type itemView struct {
	Description string
	Quantity    string
	UnitPrice   string
	LineTotal   string
}

type businessView struct {
	Name    string
	Email   string
	Phone   string
	Address []string
	TaxID   string
	LogoURL string
}

type documentView struct {
	Business    *businessView
	Title       string
	Number      string
	Status      string
	IssueDate   string
	DueLabel    string
	DueDate     string
	ClientName  string
	ClientEmail string
	Items       []itemView
	TaxRate     string
	Subtotal    string
	TaxAmount   string
	Total       string
	ShowBalance bool
	BalanceDue  string
	PaymentLink string
	Notes       string
	Terms       string
}

// HTML renders the document page. business may be nil.
func (r *DocumentRenderer) HTML(doc *documents.Document, business *profile.Profile) (string, error) {
	view := documentView{
		Title:       "QUOTE",
		Number:      doc.Number,
		Status:      string(doc.Status),
		IssueDate:   doc.IssueDate.Format(shared.DateLayout),
		DueLabel:    "Valid until",
		ClientName:  doc.ClientName,
		ClientEmail: doc.ClientEmail,
		TaxRate:     doc.TaxRate.String(),
		Subtotal:    r.format.Format(doc.Subtotal),
		TaxAmount:   r.format.Format(doc.TaxAmount),
		Total:       r.format.Format(doc.Total),
		Notes:       doc.Notes,
		Terms:       doc.Terms,
	}
	if business != nil {
		view.Business = &businessView{
			Name:    business.BusinessName,
			Email:   business.Email,
			Phone:   business.Phone,
			Address: business.AddressLines(),
			TaxID:   business.TaxID,
			LogoURL: business.LogoURL,
		}
	}
	if doc.IsInvoice() {
		view.Title = "INVOICE"
		view.DueLabel = "Due"
		view.ShowBalance = true
		view.BalanceDue = r.format.Format(doc.BalanceDue)
		view.PaymentLink = doc.PaymentLink
	}
	if doc.DueDate != nil && !doc.DueDate.IsZero() {
		view.DueDate = doc.DueDate.Format(shared.DateLayout)
	}
	for _, item := range doc.Items {
		view.Items = append(view.Items, itemView{
			Description: item.Description,
			Quantity:    item.Quantity.String(),
			UnitPrice:   r.format.Format(item.UnitPrice),
			LineTotal:   r.format.Format(item.LineTotal),
		})
	}

	buf := &bytes.Buffer{}
	if err := r.tpl.ExecuteTemplate(buf, "document.html", view); err != nil {
		return "", fmt.Errorf("report: execute document template: %w", err)
	}
	return buf.String(), nil
}

// Render produces the PDF of doc.
func (r *DocumentRenderer) Render(ctx context.Context, doc *documents.Document) ([]byte, error) {
	business, err := profile.Lookup(ctx, r.profiles, doc.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("report: load business profile: %w", err)
	}
	html, err := r.HTML(doc, business)
	if err != nil {
		return nil, err
	}
	return r.converter.RenderHTML(ctx, html)
}
