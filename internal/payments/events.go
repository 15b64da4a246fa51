package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is a processor notification. The set of implementations is closed to this package.
type Event interface {
	Kind() string
	isEvent()
}

// Details carries the fields every settled or failed charge event has.
type Details struct {
	EventID    string
	ExternalID string
	Amount     decimal.Decimal
	InvoiceID  uuid.UUID
	OwnerID    uuid.UUID
	Method     Method
	OccurredAt time.Time
}

// CheckoutCompleted is a finished hosted checkout.
type CheckoutCompleted struct{ Details }

// PaymentPending is a finished checkout whose delayed method (bank debit, transfer) has not settled.
type PaymentPending struct{ Details }

// PaymentSucceeded is a captured charge.
type PaymentSucceeded struct{ Details }

// PaymentFailed is a declined or errored charge.
type PaymentFailed struct {
	Details
	Reason string
}

// Unhandled is any event type reconciliation does not act on.
type Unhandled struct {
	EventID string
	Type    string
}

func (CheckoutCompleted) Kind() string { return "checkout_completed" }
func (PaymentPending) Kind() string    { return "payment_pending" }
func (PaymentSucceeded) Kind() string  { return "payment_succeeded" }
func (PaymentFailed) Kind() string     { return "payment_failed" }
func (Unhandled) Kind() string         { return "unhandled" }

func (CheckoutCompleted) isEvent() {}
func (PaymentPending) isEvent()    {}
func (PaymentSucceeded) isEvent()  {}
func (PaymentFailed) isEvent()     {}
func (Unhandled) isEvent()         {}

// EventSource verifies and decodes raw webhook deliveries.
type EventSource interface {
	Parse(payload []byte, signature string) (Event, error)
}

// ErrUnverifiedEvent is returned when a delivery fails signature verification.
var ErrUnverifiedEvent = errors.New("webhook signature verification failed")

// MalformedEventError marks an authentic event that lacks what reconciliation needs.
// Such events are acknowledged and dropped, never retried.
type MalformedEventError struct {
	EventID string
	Type    string
	Reason  string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("event %s (%s): %s", e.EventID, e.Type, e.Reason)
}

// Outcome is what reconciliation did with one event.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeRecordedFailure Outcome = "recorded_failure"
	OutcomeRecordedPending Outcome = "recorded_pending"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeStatusUpdated   Outcome = "status_updated"
	OutcomeStale           Outcome = "stale"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeDropped         Outcome = "dropped"
	OutcomeRejected        Outcome = "rejected"
)
