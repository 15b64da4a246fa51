// Package profile keeps the business details an owner prints on documents and emails.
package profile

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Profile is the owner's business identity. There is at most one per owner.
type Profile struct {
	OwnerID        uuid.UUID       `json:"owner_id"`
	BusinessName   string          `json:"business_name"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone,omitempty"`
	Address        string          `json:"address,omitempty"`
	TaxID          string          `json:"tax_id,omitempty"`
	LogoURL        string          `json:"logo_url,omitempty"`
	DefaultTaxRate decimal.Decimal `json:"default_tax_rate"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AddressLines splits the free-form address into non-empty lines.
func (p *Profile) AddressLines() []string {
	if p == nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(p.Address, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Input replaces the owner's profile.
type Input struct {
	BusinessName   string          `json:"business_name" validate:"required,max=200"`
	Email          string          `json:"email" validate:"required,email,max=320"`
	Phone          string          `json:"phone" validate:"max=50"`
	Address        string          `json:"address" validate:"max=1000"`
	TaxID          string          `json:"tax_id" validate:"max=100"`
	LogoURL        string          `json:"logo_url" validate:"omitempty,url,max=2048"`
	DefaultTaxRate decimal.Decimal `json:"default_tax_rate"`
}

// Repository persists profiles. Get reports shared.ErrNotFound for an owner without one.
type Repository interface {
	Get(ctx context.Context, ownerID uuid.UUID) (*Profile, error)
	Upsert(ctx context.Context, p Profile) (*Profile, error)
}

// Reader is the read side used by renderers and mailers.
type Reader interface {
	Get(ctx context.Context, ownerID uuid.UUID) (*Profile, error)
}
