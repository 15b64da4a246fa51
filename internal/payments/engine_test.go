package payments_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/shared"
	"github.com/buildledger/buildledger/internal/store/memory"
	stripeadapter "github.com/buildledger/buildledger/internal/stripe"
)

const webhookSecret = "whsec_engine_test"

type fakeReceipts struct {
	mu    sync.Mutex
	queue []uuid.UUID
}

func (f *fakeReceipts) EnqueuePaymentReceipt(ctx context.Context, ownerID, invoiceID, paymentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, paymentID)
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *fakeRecorder) ObserveReconciliation(kind, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[outcome]++
}

type fixture struct {
	store    *memory.Store
	engine   *payments.Engine
	receipts *fakeReceipts
	recorder *fakeRecorder
	owner    uuid.UUID
	invoice  *documents.Document
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newFixture seeds a sent invoice of 3255.00 (2400 + 5 x 120 at 8.5% tax).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	owner := uuid.New()
	doc := documents.Document{
		ID:          uuid.New(),
		Kind:        documents.KindInvoice,
		Number:      "INV-0001",
		OwnerID:     owner,
		ClientName:  "Kitchen Remodel LLC",
		ClientEmail: "client@example.com",
		Status:      documents.StatusDraft,
		TaxRate:     d("8.5"),
		Items: []documents.LineItem{
			{Description: "Cabinets", Quantity: d("1"), UnitPrice: d("2400")},
			{Description: "Labor hours", Quantity: d("5"), UnitPrice: d("120")},
		},
	}
	require.NoError(t, doc.Recalculate())
	doc.Status = documents.StatusSent
	invoice, err := store.Documents().Create(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, "3255.00", invoice.BalanceDue.StringFixed(2))

	receipts := &fakeReceipts{}
	recorder := &fakeRecorder{}
	engine := payments.NewEngine(
		stripeadapter.NewVerifier(webhookSecret),
		store,
		shared.NewKeyedMutex(),
		discardLogger(),
		payments.WithReceiptQueue(receipts),
		payments.WithOutcomeRecorder(recorder),
	)
	return &fixture{store: store, engine: engine, receipts: receipts, recorder: recorder, owner: owner, invoice: invoice}
}

func (f *fixture) reload(t *testing.T) *documents.Document {
	t.Helper()
	doc, err := f.store.Documents().Get(context.Background(), f.owner, f.invoice.ID)
	require.NoError(t, err)
	return doc
}

func (f *fixture) ledger(t *testing.T) []payments.Payment {
	t.Helper()
	list, err := f.store.Payments().ListByInvoice(context.Background(), f.owner, f.invoice.ID)
	require.NoError(t, err)
	return list
}

func intentEvent(t *testing.T, eventType, intentID string, cents int64, invoiceID, ownerID string) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + uuid.NewString(),
		"object":      "event",
		"type":        eventType,
		"created":     1700000000,
		"api_version": "2020-08-27",
		"data": map[string]any{"object": map[string]any{
			"id":              intentID,
			"object":          "payment_intent",
			"amount":          cents,
			"amount_received": cents,
			"metadata":        map[string]string{"invoice_id": invoiceID, "owner_id": ownerID},
		}},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret})
	return payload, signed.Header
}

func (f *fixture) succeeded(t *testing.T, intentID string, cents int64) ([]byte, string) {
	return intentEvent(t, stripeadapter.EventPaymentIntentSucceeded, intentID, cents, f.invoice.ID.String(), f.owner.String())
}

func TestDuplicateDeliveryAppliesOnce(t *testing.T) {
	f := newFixture(t)
	payload, sig := f.succeeded(t, "pi_123", 325500)

	first, err := f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeApplied, first.Outcome)

	second, err := f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeDuplicate, second.Outcome)

	inv := f.reload(t)
	assert.True(t, inv.BalanceDue.IsZero())
	assert.Equal(t, documents.StatusPaid, inv.Status)

	rows := f.ledger(t)
	require.Len(t, rows, 1)
	assert.Equal(t, payments.StatusCompleted, rows[0].Status)
	assert.Equal(t, "pi_123", rows[0].ExternalID)
	assert.Len(t, f.receipts.queue, 1)
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	f := newFixture(t)
	payload, sig := f.succeeded(t, "pi_123", 325500)

	var wg sync.WaitGroup
	outcomes := make(chan payments.Outcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.HandleWebhook(context.Background(), payload, sig)
			if assert.NoError(t, err) {
				outcomes <- res.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	applied := 0
	for o := range outcomes {
		if o == payments.OutcomeApplied {
			applied++
		} else {
			assert.Equal(t, payments.OutcomeDuplicate, o)
		}
	}
	assert.Equal(t, 1, applied)
	assert.Len(t, f.ledger(t), 1)
	assert.True(t, f.reload(t).BalanceDue.IsZero())
}

func TestPartialThenFinalPayment(t *testing.T) {
	f := newFixture(t)

	payload, sig := f.succeeded(t, "pi_100", 100000)
	_, err := f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	inv := f.reload(t)
	assert.Equal(t, "2255.00", inv.BalanceDue.StringFixed(2))
	assert.Equal(t, documents.StatusPartial, inv.Status)

	payload, sig = f.succeeded(t, "pi_456", 225500)
	_, err = f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	inv = f.reload(t)
	assert.True(t, inv.BalanceDue.IsZero())
	assert.Equal(t, documents.StatusPaid, inv.Status)
	assert.Len(t, f.ledger(t), 2)
}

func TestOverpaymentNeverGoesNegative(t *testing.T) {
	f := newFixture(t)
	payload, sig := f.succeeded(t, "pi_big", 500000)
	_, err := f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)

	inv := f.reload(t)
	assert.True(t, inv.BalanceDue.IsZero())
	assert.Equal(t, documents.StatusPaid, inv.Status)
}

func TestCheckoutAndIntentEventsShareExternalID(t *testing.T) {
	f := newFixture(t)
	checkout, err := json.Marshal(map[string]any{
		"id": "evt_cs", "object": "event", "type": stripeadapter.EventCheckoutCompleted,
		"created": 1700000000, "api_version": "2020-08-27",
		"data": map[string]any{"object": map[string]any{
			"id": "cs_1", "payment_intent": "pi_123", "payment_status": "paid", "amount_total": 325500,
			"metadata": map[string]string{"invoice_id": f.invoice.ID.String(), "owner_id": f.owner.String()},
		}},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: checkout, Secret: webhookSecret})

	res, err := f.engine.HandleWebhook(context.Background(), checkout, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeApplied, res.Outcome)

	payload, sig := f.succeeded(t, "pi_123", 325500)
	res, err = f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeDuplicate, res.Outcome)
	assert.Len(t, f.ledger(t), 1)
}

func TestOwnerMismatchIsRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	payload, sig := intentEvent(t, stripeadapter.EventPaymentIntentSucceeded, "pi_evil", 325500, f.invoice.ID.String(), uuid.NewString())

	res, err := f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeRejected, res.Outcome)

	inv := f.reload(t)
	assert.Equal(t, "3255.00", inv.BalanceDue.StringFixed(2))
	assert.Equal(t, documents.StatusSent, inv.Status)
	assert.Empty(t, f.ledger(t))
	assert.Empty(t, f.receipts.queue)
	assert.Equal(t, 1, f.recorder.counts["rejected"])
}

func TestMissingMetadataIsDropped(t *testing.T) {
	f := newFixture(t)
	payload, sig := intentEvent(t, stripeadapter.EventPaymentIntentSucceeded, "pi_nometa", 1000, "", f.owner.String())

	res, err := f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeDropped, res.Outcome)
	assert.Empty(t, f.ledger(t))
}

func TestUnknownInvoiceIsDropped(t *testing.T) {
	f := newFixture(t)
	payload, sig := intentEvent(t, stripeadapter.EventPaymentIntentSucceeded, "pi_ghost", 1000, uuid.NewString(), f.owner.String())

	res, err := f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeDropped, res.Outcome)
}

func TestUnverifiedPayloadIsRejected(t *testing.T) {
	f := newFixture(t)
	payload, _ := f.succeeded(t, "pi_123", 325500)

	_, err := f.engine.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, payments.ErrUnverifiedEvent)
	assert.Empty(t, f.ledger(t))
}

func TestFailureThenRetrySuccess(t *testing.T) {
	f := newFixture(t)

	payload, sig := intentEvent(t, stripeadapter.EventPaymentIntentPaymentFailed, "pi_retry", 325500, f.invoice.ID.String(), f.owner.String())
	res, err := f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeRecordedFailure, res.Outcome)
	assert.Equal(t, "3255.00", f.reload(t).BalanceDue.StringFixed(2))

	payload, sig = f.succeeded(t, "pi_retry", 325500)
	res, err = f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeApplied, res.Outcome)
	assert.Equal(t, payments.RetryExternalID("pi_retry"), res.Payment.ExternalID)

	res, err = f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeDuplicate, res.Outcome)

	assert.Equal(t, documents.StatusPaid, f.reload(t).Status)
	assert.Len(t, f.ledger(t), 2)
}

func TestFailureAfterSuccessIsStale(t *testing.T) {
	f := newFixture(t)
	payload, sig := f.succeeded(t, "pi_123", 100000)
	_, err := f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)

	payload, sig = intentEvent(t, stripeadapter.EventPaymentIntentPaymentFailed, "pi_123", 100000, f.invoice.ID.String(), f.owner.String())
	res, err := f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeStale, res.Outcome)

	rows := f.ledger(t)
	require.Len(t, rows, 1)
	assert.Equal(t, payments.StatusCompleted, rows[0].Status)
	assert.Equal(t, "2255.00", f.reload(t).BalanceDue.StringFixed(2))
}

func TestPendingRowIsPromoted(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Payments().RecordPayment(context.Background(), payments.RecordInput{
		OwnerID: f.owner, InvoiceID: f.invoice.ID, Amount: d("1000"),
		Method: payments.MethodStripe, ExternalID: "pi_pending", Status: payments.StatusPending,
	})
	require.NoError(t, err)

	payload, sig := f.succeeded(t, "pi_pending", 100000)
	res, err := f.engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeStatusUpdated, res.Outcome)
	assert.Equal(t, "2255.00", f.reload(t).BalanceDue.StringFixed(2))
	assert.Len(t, f.ledger(t), 1)
}

func (f *fixture) checkoutEvent(t *testing.T, eventType, paymentStatus string, cents int64) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id": "evt_" + uuid.NewString(), "object": "event", "type": eventType,
		"created": 1700000000, "api_version": "2020-08-27",
		"data": map[string]any{"object": map[string]any{
			"id": "cs_ach", "payment_intent": "pi_ach", "payment_status": paymentStatus, "amount_total": cents,
			"metadata": map[string]string{"invoice_id": f.invoice.ID.String(), "owner_id": f.owner.String()},
		}},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret})
	return payload, signed.Header
}

func TestDelayedCheckoutSettlesThroughAsyncSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload, sig := f.checkoutEvent(t, stripeadapter.EventCheckoutCompleted, "unpaid", 100000)
	res, err := f.engine.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeRecordedPending, res.Outcome)
	rows := f.ledger(t)
	require.Len(t, rows, 1)
	assert.Equal(t, payments.StatusPending, rows[0].Status)
	assert.Equal(t, "3255.00", f.reload(t).BalanceDue.StringFixed(2))
	assert.Empty(t, f.receipts.queue)

	res, err = f.engine.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeDuplicate, res.Outcome)

	payload, sig = f.checkoutEvent(t, stripeadapter.EventCheckoutAsyncSucceeded, "paid", 100000)
	res, err = f.engine.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeStatusUpdated, res.Outcome)

	inv := f.reload(t)
	assert.Equal(t, "2255.00", inv.BalanceDue.StringFixed(2))
	assert.Equal(t, documents.StatusPartial, inv.Status)
	rows = f.ledger(t)
	require.Len(t, rows, 1)
	assert.Equal(t, payments.StatusCompleted, rows[0].Status)
	assert.Len(t, f.receipts.queue, 1)

	// the intent event for the same charge arrives last
	payload, sig = f.succeeded(t, "pi_ach", 100000)
	res, err = f.engine.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, "2255.00", f.reload(t).BalanceDue.StringFixed(2))
}

func TestDelayedCheckoutAsyncFailureLeavesBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload, sig := f.checkoutEvent(t, stripeadapter.EventCheckoutCompleted, "unpaid", 100000)
	_, err := f.engine.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)

	payload, sig = f.checkoutEvent(t, stripeadapter.EventCheckoutAsyncFailed, "unpaid", 100000)
	res, err := f.engine.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeStatusUpdated, res.Outcome)

	rows := f.ledger(t)
	require.Len(t, rows, 1)
	assert.Equal(t, payments.StatusFailed, rows[0].Status)
	assert.Equal(t, "3255.00", f.reload(t).BalanceDue.StringFixed(2))
	assert.Empty(t, f.receipts.queue)
}

func TestUnhandledEventIsIgnored(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Apply(context.Background(), payments.Unhandled{EventID: "evt_1", Type: "customer.created"})
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeIgnored, res.Outcome)
}

// conflictOnce makes the first balance write lose a version race.
type conflictOnce struct {
	*memory.Store
	mu    sync.Mutex
	fired bool
}

type conflictingInvoices struct {
	payments.InvoiceStore
	parent *conflictOnce
}

func (c conflictingInvoices) ApplyBalance(ctx context.Context, u documents.BalanceUpdate) (*documents.Document, error) {
	c.parent.mu.Lock()
	defer c.parent.mu.Unlock()
	if !c.parent.fired {
		c.parent.fired = true
		return nil, shared.ErrConflict
	}
	return c.InvoiceStore.ApplyBalance(ctx, u)
}

func (c *conflictOnce) WithinTx(ctx context.Context, fn func(context.Context, payments.Ledger, payments.InvoiceStore) error) error {
	return c.Store.WithinTx(ctx, func(ctx context.Context, l payments.Ledger, inv payments.InvoiceStore) error {
		return fn(ctx, l, conflictingInvoices{InvoiceStore: inv, parent: c})
	})
}

func TestVersionConflictRetriesWholeTransaction(t *testing.T) {
	f := newFixture(t)
	uow := &conflictOnce{Store: f.store}
	engine := payments.NewEngine(stripeadapter.NewVerifier(webhookSecret), uow, shared.NewKeyedMutex(), discardLogger())

	payload, sig := f.succeeded(t, "pi_123", 100000)
	res, err := engine.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeApplied, res.Outcome)
	assert.Len(t, f.ledger(t), 1)
	assert.Equal(t, "2255.00", f.reload(t).BalanceDue.StringFixed(2))
}

type brokenUnitOfWork struct{}

func (brokenUnitOfWork) WithinTx(ctx context.Context, fn func(context.Context, payments.Ledger, payments.InvoiceStore) error) error {
	return errors.New("connection refused")
}

func TestStoreFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	engine := payments.NewEngine(stripeadapter.NewVerifier(webhookSecret), brokenUnitOfWork{}, shared.NewKeyedMutex(), discardLogger())

	payload, sig := f.succeeded(t, "pi_123", 100000)
	_, err := engine.HandleWebhook(context.Background(), payload, sig)
	require.Error(t, err)
	assert.True(t, shared.IsTransient(err))
}

func TestRecordManualIsIdempotentPerKey(t *testing.T) {
	f := newFixture(t)
	in := payments.ManualPaymentInput{Amount: d("1000"), Method: payments.MethodZelle, IdempotencyKey: "abc-1"}

	res, err := f.engine.RecordManual(context.Background(), f.owner, f.invoice.ID, in)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeApplied, res.Outcome)
	assert.Equal(t, payments.MethodZelle, res.Payment.Method)

	res, err = f.engine.RecordManual(context.Background(), f.owner, f.invoice.ID, in)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, "2255.00", f.reload(t).BalanceDue.StringFixed(2))
}

func TestRecordManualValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]payments.ManualPaymentInput{
		"missing key":  {Amount: d("10"), Method: payments.MethodCash},
		"stripe":       {Amount: d("10"), Method: payments.MethodStripe, IdempotencyKey: "k"},
		"zero amount":  {Amount: d("0"), Method: payments.MethodCash, IdempotencyKey: "k"},
		"sub-cent":     {Amount: d("1.005"), Method: payments.MethodCash, IdempotencyKey: "k"},
		"bogus method": {Amount: d("10"), Method: "barter", IdempotencyKey: "k"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.RecordManual(context.Background(), f.owner, f.invoice.ID, in)
			assert.True(t, shared.IsValidation(err), "got %v", err)
		})
	}
}

func TestRecordManualForeignInvoice(t *testing.T) {
	f := newFixture(t)
	in := payments.ManualPaymentInput{Amount: d("10"), Method: payments.MethodCash, IdempotencyKey: "k"}
	_, err := f.engine.RecordManual(context.Background(), uuid.New(), f.invoice.ID, in)
	assert.True(t, shared.IsAuthorization(err))
	assert.Empty(t, f.ledger(t))
}
