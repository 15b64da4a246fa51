package profile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/buildledger/buildledger/internal/money"
	"github.com/buildledger/buildledger/internal/shared"
)

// Service reads and replaces owner profiles.
type Service struct {
	repo     Repository
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the profile service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, validate: validator.New(), logger: logger, now: time.Now}
}

// Get loads the owner's profile.
func (s *Service) Get(ctx context.Context, ownerID uuid.UUID) (*Profile, error) {
	return s.repo.Get(ctx, ownerID)
}

// Save creates or replaces the owner's profile.
func (s *Service) Save(ctx context.Context, ownerID uuid.UUID, in Input) (*Profile, error) {
	in.BusinessName = strings.TrimSpace(in.BusinessName)
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	if err := money.ValidateTaxRate(in.DefaultTaxRate); err != nil {
		return nil, shared.NewValidationError("default_tax_rate", "must be between 0 and 100")
	}
	now := s.now().UTC()
	saved, err := s.repo.Upsert(ctx, Profile{
		OwnerID:        ownerID,
		BusinessName:   in.BusinessName,
		Email:          in.Email,
		Phone:          strings.TrimSpace(in.Phone),
		Address:        strings.TrimSpace(in.Address),
		TaxID:          strings.TrimSpace(in.TaxID),
		LogoURL:        in.LogoURL,
		DefaultTaxRate: in.DefaultTaxRate,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("business profile saved", slog.String("owner_id", ownerID.String()))
	return saved, nil
}

// DefaultTaxRate is the rate new documents start with. Owners without a profile get zero.
func (s *Service) DefaultTaxRate(ctx context.Context, ownerID uuid.UUID) (decimal.Decimal, error) {
	p, err := Lookup(ctx, s.repo, ownerID)
	if err != nil || p == nil {
		return decimal.Zero, err
	}
	return p.DefaultTaxRate, nil
}

// Lookup returns the owner's profile, or nil when there is none or no reader is configured.
func Lookup(ctx context.Context, r Reader, ownerID uuid.UUID) (*Profile, error) {
	if r == nil {
		return nil, nil
	}
	p, err := r.Get(ctx, ownerID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	return p, err
}
