package documents

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/buildledger/buildledger/internal/shared"
)

// LineItemInput is a client-supplied line. Numeric rules are enforced by the calculator.
type LineItemInput struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreateInput creates a draft quote or invoice. A missing tax rate falls back to the owner's default.
type CreateInput struct {
	Kind        Kind             `json:"-" validate:"required,oneof=quote invoice"`
	ClientName  string           `json:"client_name" validate:"required,max=200"`
	ClientEmail string           `json:"client_email" validate:"required,email,max=320"`
	IssueDate   shared.Date      `json:"issue_date"`
	DueDate     *shared.Date     `json:"due_date,omitempty"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
	Notes       string           `json:"notes" validate:"max=5000"`
	Terms       string           `json:"terms" validate:"max=5000"`
	Items       []LineItemInput  `json:"items" validate:"required,min=1,max=500,dive"`
}

// Patch edits a draft. Status, totals and balance are deliberately absent.
type Patch struct {
	ClientName  *string          `json:"client_name,omitempty" validate:"omitempty,min=1,max=200"`
	ClientEmail *string          `json:"client_email,omitempty" validate:"omitempty,email,max=320"`
	IssueDate   *shared.Date     `json:"issue_date,omitempty"`
	DueDate     *shared.Date     `json:"due_date,omitempty"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
	Notes       *string          `json:"notes,omitempty" validate:"omitempty,max=5000"`
	Terms       *string          `json:"terms,omitempty" validate:"omitempty,max=5000"`
	Items       *[]LineItemInput `json:"items,omitempty" validate:"omitempty,min=1,max=500,dive"`
	Version     *int64           `json:"version,omitempty"`
}

// SendInput emails a document. Recipient defaults to the client email.
type SendInput struct {
	Kind      Kind      `json:"type" validate:"required,oneof=quote invoice"`
	ID        uuid.UUID `json:"id" validate:"required"`
	Recipient string    `json:"recipient" validate:"omitempty,email,max=320"`
}

// TransitionInput is a user-driven status change.
type TransitionInput struct {
	Status Status `json:"status" validate:"required"`
}

// ConvertInput turns an accepted quote into an invoice.
type ConvertInput struct {
	DueDate *shared.Date `json:"due_date,omitempty"`
}

func itemsFromInput(in []LineItemInput) []LineItem {
	items := make([]LineItem, len(in))
	for i, li := range in {
		items[i] = LineItem{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
		}
	}
	return items
}
