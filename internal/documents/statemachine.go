package documents

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/buildledger/buildledger/internal/shared"
)

// Trigger names what caused a status move.
type Trigger string

const (
	TriggerSend    Trigger = "send"
	TriggerUser    Trigger = "user"
	TriggerPayment Trigger = "payment"
)

type edge struct {
	from    Status
	to      Status
	trigger Trigger
}

var transitions = map[Kind][]edge{
	KindQuote: {
		{StatusDraft, StatusSent, TriggerSend},
		{StatusSent, StatusSent, TriggerSend},
		{StatusViewed, StatusViewed, TriggerSend},
		{StatusSent, StatusViewed, TriggerUser},
		{StatusViewed, StatusAccepted, TriggerUser},
		{StatusViewed, StatusRejected, TriggerUser},
	},
	KindInvoice: {
		{StatusDraft, StatusSent, TriggerSend},
		{StatusSent, StatusSent, TriggerSend},
		{StatusViewed, StatusViewed, TriggerSend},
		{StatusPartial, StatusPartial, TriggerSend},
		{StatusSent, StatusViewed, TriggerUser},
		{StatusDraft, StatusPartial, TriggerPayment},
		{StatusSent, StatusPartial, TriggerPayment},
		{StatusViewed, StatusPartial, TriggerPayment},
		{StatusPartial, StatusPartial, TriggerPayment},
		{StatusDraft, StatusPaid, TriggerPayment},
		{StatusSent, StatusPaid, TriggerPayment},
		{StatusViewed, StatusPaid, TriggerPayment},
		{StatusPartial, StatusPaid, TriggerPayment},
	},
}

// Transition validates a status move. Nothing is clamped: any move absent from the table fails.
func Transition(kind Kind, from, to Status, trigger Trigger) error {
	want := edge{from, to, trigger}
	for _, e := range transitions[kind] {
		if e == want {
			return nil
		}
	}
	return &shared.InvalidTransitionError{Kind: string(kind), From: string(from), To: string(to)}
}

// SendTarget is the status a document holds after being (re)sent.
func SendTarget(current Status) Status {
	if current == StatusDraft {
		return StatusSent
	}
	return current
}

// SettledStatus is the only place an invoice's payment status is derived from its balance.
func SettledStatus(current Status, balanceDue, total decimal.Decimal) Status {
	switch {
	case balanceDue.Sign() <= 0:
		return StatusPaid
	case balanceDue.LessThan(total):
		return StatusPartial
	default:
		return current
	}
}

// DisplayStatus reports overdue for unpaid invoices past their due date and the stored status otherwise.
func DisplayStatus(doc *Document, now time.Time) Status {
	if doc.Kind != KindInvoice || doc.DueDate == nil || !doc.BalanceDue.IsPositive() {
		return doc.Status
	}
	switch doc.Status {
	case StatusSent, StatusViewed, StatusPartial:
		if now.After(doc.DueDate.EndOfDay()) {
			return StatusOverdue
		}
	}
	return doc.Status
}
