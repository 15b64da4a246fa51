package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/buildledger/buildledger/internal/profile"
)

const profileColumns = `owner_id, business_name, email, phone, address, tax_id, logo_url, default_tax_rate, created_at, updated_at`

// ProfileRepository implements profile.Repository.
type ProfileRepository struct {
	db dbtx
}

var _ profile.Repository = (*ProfileRepository)(nil)

func (r *ProfileRepository) Get(ctx context.Context, ownerID uuid.UUID) (*profile.Profile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM business_profiles WHERE owner_id = $1`, ownerID))
	if err != nil {
		return nil, classify("get profile", err)
	}
	return p, nil
}

// Upsert keeps created_at from the first write.
func (r *ProfileRepository) Upsert(ctx context.Context, p profile.Profile) (*profile.Profile, error) {
	saved, err := scanProfile(r.db.QueryRow(ctx, `
		INSERT INTO business_profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (owner_id) DO UPDATE SET
			business_name = EXCLUDED.business_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			address = EXCLUDED.address,
			tax_id = EXCLUDED.tax_id,
			logo_url = EXCLUDED.logo_url,
			default_tax_rate = EXCLUDED.default_tax_rate,
			updated_at = EXCLUDED.updated_at
		RETURNING `+profileColumns,
		p.OwnerID, p.BusinessName, p.Email, p.Phone, p.Address, p.TaxID, p.LogoURL,
		toNumeric(p.DefaultTaxRate), p.CreatedAt, p.UpdatedAt,
	))
	if err != nil {
		return nil, classify("upsert profile", err)
	}
	return saved, nil
}

func scanProfile(row pgx.Row) (*profile.Profile, error) {
	var (
		p    profile.Profile
		rate pgtype.Numeric
	)
	if err := row.Scan(&p.OwnerID, &p.BusinessName, &p.Email, &p.Phone, &p.Address, &p.TaxID, &p.LogoURL, &rate, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.DefaultTaxRate = fromNumeric(rate)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
