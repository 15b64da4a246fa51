package documents

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/buildledger/buildledger/internal/shared"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct {
		kind     Kind
		from, to Status
		trigger  Trigger
	}{
		{KindQuote, StatusDraft, StatusSent, TriggerSend},
		{KindQuote, StatusSent, StatusSent, TriggerSend},
		{KindQuote, StatusSent, StatusViewed, TriggerUser},
		{KindQuote, StatusViewed, StatusAccepted, TriggerUser},
		{KindQuote, StatusViewed, StatusRejected, TriggerUser},
		{KindInvoice, StatusDraft, StatusSent, TriggerSend},
		{KindInvoice, StatusPartial, StatusPartial, TriggerSend},
		{KindInvoice, StatusSent, StatusViewed, TriggerUser},
		{KindInvoice, StatusSent, StatusPartial, TriggerPayment},
		{KindInvoice, StatusPartial, StatusPaid, TriggerPayment},
		{KindInvoice, StatusDraft, StatusPaid, TriggerPayment},
	}
	for _, tc := range allowed {
		assert.NoError(t, Transition(tc.kind, tc.from, tc.to, tc.trigger), "%s %s->%s (%s)", tc.kind, tc.from, tc.to, tc.trigger)
	}

	rejected := []struct {
		kind     Kind
		from, to Status
		trigger  Trigger
	}{
		{KindInvoice, StatusSent, StatusPaid, TriggerUser},
		{KindInvoice, StatusSent, StatusPartial, TriggerUser},
		{KindInvoice, StatusPaid, StatusDraft, TriggerUser},
		{KindInvoice, StatusPaid, StatusSent, TriggerSend},
		{KindInvoice, StatusPaid, StatusPartial, TriggerPayment},
		{KindInvoice, StatusViewed, StatusAccepted, TriggerUser},
		{KindQuote, StatusSent, StatusAccepted, TriggerUser},
		{KindQuote, StatusAccepted, StatusDraft, TriggerUser},
		{KindQuote, StatusSent, StatusPaid, TriggerPayment},
		{KindQuote, StatusDraft, StatusSent, TriggerUser},
	}
	for _, tc := range rejected {
		err := Transition(tc.kind, tc.from, tc.to, tc.trigger)
		assert.True(t, shared.IsInvalidTransition(err), "%s %s->%s (%s) should fail", tc.kind, tc.from, tc.to, tc.trigger)
	}
}

func TestSettledStatus(t *testing.T) {
	total := decimal.NewFromInt(3255)
	assert.Equal(t, StatusPaid, SettledStatus(StatusSent, decimal.Zero, total))
	assert.Equal(t, StatusPartial, SettledStatus(StatusSent, decimal.NewFromInt(2255), total))
	assert.Equal(t, StatusViewed, SettledStatus(StatusViewed, total, total))
}

func TestDisplayStatusOverdue(t *testing.T) {
	due := shared.NewDate(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	doc := &Document{Kind: KindInvoice, Status: StatusSent, DueDate: &due, BalanceDue: decimal.NewFromInt(10)}

	assert.Equal(t, StatusSent, DisplayStatus(doc, time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)))
	assert.Equal(t, StatusOverdue, DisplayStatus(doc, time.Date(2024, 5, 2, 0, 0, 1, 0, time.UTC)))

	doc.Status = StatusPaid
	assert.Equal(t, StatusPaid, DisplayStatus(doc, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	doc.Status = StatusDraft
	assert.Equal(t, StatusDraft, DisplayStatus(doc, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	quote := &Document{Kind: KindQuote, Status: StatusSent, DueDate: &due}
	assert.Equal(t, StatusSent, DisplayStatus(quote, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
}
