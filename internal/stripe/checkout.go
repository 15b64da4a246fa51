package stripe

import (
	"context"
	"fmt"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/buildledger/buildledger/internal/payments"
)

// CheckoutConfig configures hosted checkout sessions.
type CheckoutConfig struct {
	SecretKey string
	BaseURL   string
	// APIURL overrides the Stripe API endpoint; tests point it at a local server.
	APIURL string
}

// CheckoutClient creates hosted checkout sessions. It implements payments.CheckoutCreator.
type CheckoutClient struct {
	api     *client.API
	baseURL string
}

// NewCheckoutClient builds a client bound to one secret key.
func NewCheckoutClient(cfg CheckoutConfig) *CheckoutClient {
	var backends *stripeapi.Backends
	if cfg.APIURL != "" {
		backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
			URL:               stripeapi.String(cfg.APIURL),
			MaxNetworkRetries: stripeapi.Int64(0),
		})
		backends = &stripeapi.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	return &CheckoutClient{
		api:     client.New(cfg.SecretKey, backends),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// CreateSession opens a one-line payment session for the invoice balance. Invoice and owner ids
// are stamped on both the session and its payment intent so either webhook can be reconciled.
func (c *CheckoutClient) CreateSession(ctx context.Context, req payments.CheckoutRequest) (payments.CheckoutSession, error) {
	metadata := map[string]string{
		MetaInvoiceID: req.InvoiceID.String(),
		MetaOwnerID:   req.OwnerID.String(),
	}
	params := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		ClientReferenceID: stripeapi.String(req.InvoiceID.String()),
		SuccessURL:        stripeapi.String(fmt.Sprintf("%s/pay/%s/success", c.baseURL, req.InvoiceID)),
		CancelURL:         stripeapi.String(fmt.Sprintf("%s/pay/%s/cancel", c.baseURL, req.InvoiceID)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{{
			Quantity: stripeapi.Int64(1),
			PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripeapi.String(req.Currency),
				UnitAmount: stripeapi.Int64(req.AmountMinor),
				ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripeapi.String("Invoice " + req.InvoiceNumber),
				},
			},
		}},
		PaymentIntentData: &stripeapi.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if req.ClientEmail != "" {
		params.CustomerEmail = stripeapi.String(req.ClientEmail)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return payments.CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return payments.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}
