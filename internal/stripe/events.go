// Package stripe adapts the Stripe API to the payment ports: webhook verification and decoding
// into the payment event union, and hosted checkout session creation.
package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/buildledger/buildledger/internal/money"
	"github.com/buildledger/buildledger/internal/payments"
)

// Metadata keys written on sessions and payment intents and read back from events.
const (
	MetaInvoiceID = "invoice_id"
	MetaOwnerID   = "owner_id"
)

// Event types reconciliation acts on.
const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutAsyncSucceeded     = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed        = "checkout.session.async_payment_failed"
	EventPaymentIntentSucceeded     = "payment_intent.succeeded"
	EventPaymentIntentPaymentFailed = "payment_intent.payment_failed"
)

// Verifier checks webhook signatures and decodes events. It implements payments.EventSource.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier builds a Verifier for the endpoint signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Parse verifies payload against the Stripe-Signature header and maps it onto the event union.
func (v *Verifier) Parse(payload []byte, signature string) (payments.Event, error) {
	if v.secret == "" || signature == "" {
		return nil, payments.ErrUnverifiedEvent
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payments.ErrUnverifiedEvent, err)
	}
	return Decode(event)
}

type checkoutSession struct {
	ID            string            `json:"id"`
	PaymentIntent json.RawMessage   `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Metadata      map[string]string `json:"metadata"`
}

type paymentIntent struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// Decode maps an already verified event onto the payment event union.
func Decode(event stripeapi.Event) (payments.Event, error) {
	eventType := string(event.Type)
	if event.Data == nil {
		return nil, malformed(event, "missing data")
	}
	occurred := time.Unix(event.Created, 0).UTC()

	switch eventType {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded, EventCheckoutAsyncFailed:
		var s checkoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, malformed(event, "undecodable checkout session")
		}
		pending := eventType == EventCheckoutCompleted && s.PaymentStatus == "unpaid"
		if eventType == EventCheckoutCompleted && s.PaymentStatus != "paid" && !pending {
			return payments.Unhandled{EventID: event.ID, Type: eventType}, nil
		}
		externalID := intentID(s.PaymentIntent)
		if externalID == "" {
			externalID = s.ID
		}
		details, err := details(event, externalID, s.AmountTotal, s.Metadata, occurred)
		if err != nil {
			return nil, err
		}
		switch {
		case pending:
			// delayed methods settle later through the async events
			return payments.PaymentPending{Details: details}, nil
		case eventType == EventCheckoutAsyncFailed:
			return payments.PaymentFailed{Details: details, Reason: "async payment failed"}, nil
		}
		return payments.CheckoutCompleted{Details: details}, nil

	case EventPaymentIntentSucceeded, EventPaymentIntentPaymentFailed:
		var pi paymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, malformed(event, "undecodable payment intent")
		}
		amount := pi.AmountReceived
		if amount == 0 {
			amount = pi.Amount
		}
		details, err := details(event, pi.ID, amount, pi.Metadata, occurred)
		if err != nil {
			return nil, err
		}
		if eventType == EventPaymentIntentPaymentFailed {
			reason := ""
			if pi.LastPaymentError != nil {
				reason = pi.LastPaymentError.Message
			}
			return payments.PaymentFailed{Details: details, Reason: reason}, nil
		}
		return payments.PaymentSucceeded{Details: details}, nil
	}
	return payments.Unhandled{EventID: event.ID, Type: eventType}, nil
}

func details(event stripeapi.Event, externalID string, amountMinor int64, meta map[string]string, occurred time.Time) (payments.Details, error) {
	if externalID == "" {
		return payments.Details{}, malformed(event, "missing payment reference")
	}
	if amountMinor <= 0 {
		return payments.Details{}, malformed(event, "non-positive amount")
	}
	invoiceID, err := metadataUUID(meta, MetaInvoiceID)
	if err != nil {
		return payments.Details{}, malformed(event, err.Error())
	}
	ownerID, err := metadataUUID(meta, MetaOwnerID)
	if err != nil {
		return payments.Details{}, malformed(event, err.Error())
	}
	return payments.Details{
		EventID:    event.ID,
		ExternalID: externalID,
		Amount:     money.FromMinorUnits(amountMinor),
		InvoiceID:  invoiceID,
		OwnerID:    ownerID,
		Method:     payments.MethodStripe,
		OccurredAt: occurred,
	}, nil
}

var errMissingMetadata = errors.New("missing metadata")

func metadataUUID(meta map[string]string, key string) (uuid.UUID, error) {
	raw, ok := meta[key]
	if !ok || raw == "" {
		return uuid.Nil, fmt.Errorf("%w %s", errMissingMetadata, key)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("metadata %s is not a valid id", key)
	}
	return id, nil
}

// intentID accepts both the collapsed id string and an expanded object.
func intentID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func malformed(event stripeapi.Event, reason string) error {
	return &payments.MalformedEventError{EventID: event.ID, Type: string(event.Type), Reason: reason}
}
