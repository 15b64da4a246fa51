package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/shared"
)

func seedInvoice(t *testing.T, repo *DocumentRepository, owner uuid.UUID, total string) *documents.Document {
	t.Helper()
	amount := decimal.RequireFromString(total)
	doc, err := repo.Create(context.Background(), documents.Document{
		ID:          uuid.New(),
		Kind:        documents.KindInvoice,
		Number:      "INV-0001",
		OwnerID:     owner,
		ClientName:  "Pat",
		ClientEmail: "pat@example.com",
		Status:      documents.StatusSent,
		Total:       amount,
		BalanceDue:  amount,
	})
	require.NoError(t, err)
	return doc
}

func TestNextNumberPerOwnerAndKind(t *testing.T) {
	repo := New().Documents()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	n1, _ := repo.NextNumber(ctx, a, documents.KindInvoice)
	n2, _ := repo.NextNumber(ctx, a, documents.KindInvoice)
	q1, _ := repo.NextNumber(ctx, a, documents.KindQuote)
	other, _ := repo.NextNumber(ctx, b, documents.KindInvoice)

	assert.Equal(t, "INV-0001", n1)
	assert.Equal(t, "INV-0002", n2)
	assert.Equal(t, "QT-0001", q1)
	assert.Equal(t, "INV-0001", other)
}

func TestOwnerScopedReads(t *testing.T) {
	repo := New().Documents()
	owner := uuid.New()
	doc := seedInvoice(t, repo, owner, "100")

	_, err := repo.Get(context.Background(), uuid.New(), doc.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	got, err := repo.Get(context.Background(), owner, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	list, total, err := repo.List(context.Background(), uuid.New(), documents.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, total)
}

func TestUpdateRejectsStaleVersion(t *testing.T) {
	repo := New().Documents()
	owner := uuid.New()
	doc := seedInvoice(t, repo, owner, "100")

	doc.ClientName = "Sam"
	updated, err := repo.Update(context.Background(), *doc, doc.Version)
	require.NoError(t, err)
	assert.Equal(t, doc.Version+1, updated.Version)

	_, err = repo.Update(context.Background(), *doc, doc.Version)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestApplyBalanceClearsPaymentLink(t *testing.T) {
	repo := New().Documents()
	owner := uuid.New()
	doc := seedInvoice(t, repo, owner, "100")
	ctx := context.Background()

	require.NoError(t, repo.SetPaymentLink(ctx, owner, doc.ID, doc.Version, "https://pay/1", "cs_1"))
	got, _ := repo.Get(ctx, owner, doc.ID)
	assert.Equal(t, "https://pay/1", got.PaymentLink)
	assert.Equal(t, doc.Version, got.Version)

	updated, err := repo.ApplyBalance(ctx, documents.BalanceUpdate{
		ID: doc.ID, OwnerID: owner, Version: got.Version,
		BalanceDue: decimal.NewFromInt(40), Status: documents.StatusPartial,
	})
	require.NoError(t, err)
	assert.Empty(t, updated.PaymentLink)
	assert.Equal(t, documents.StatusPartial, updated.Status)

	err = repo.SetPaymentLink(ctx, owner, doc.ID, got.Version, "https://pay/stale", "cs_2")
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store := New()
	owner := uuid.New()
	doc := seedInvoice(t, store.Documents(), owner, "100")
	boom := errors.New("boom")

	err := store.WithinTx(context.Background(), func(ctx context.Context, ledger payments.Ledger, invoices payments.InvoiceStore) error {
		_, err := ledger.RecordPayment(ctx, payments.RecordInput{
			OwnerID: owner, InvoiceID: doc.ID, Amount: decimal.NewFromInt(10),
			Method: payments.MethodStripe, ExternalID: "pi_rollback", Status: payments.StatusCompleted,
		})
		require.NoError(t, err)
		_, err = invoices.ApplyBalance(ctx, documents.BalanceUpdate{
			ID: doc.ID, OwnerID: owner, Version: doc.Version,
			BalanceDue: decimal.NewFromInt(90), Status: documents.StatusPartial,
		})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := store.Payments().FindByExternalID(context.Background(), "pi_rollback")
	require.NoError(t, err)
	assert.Nil(t, p)
	got, _ := store.Documents().Get(context.Background(), owner, doc.ID)
	assert.Equal(t, "100", got.BalanceDue.String())
	assert.Equal(t, documents.StatusSent, got.Status)
}

func TestLedgerUniqueExternalIDAndStatus(t *testing.T) {
	ledger := New().Payments()
	ctx := context.Background()
	in := payments.RecordInput{
		OwnerID: uuid.New(), InvoiceID: uuid.New(), Amount: decimal.NewFromInt(5),
		Method: payments.MethodStripe, ExternalID: "pi_1", Status: payments.StatusPending,
	}
	p, err := ledger.RecordPayment(ctx, in)
	require.NoError(t, err)

	_, err = ledger.RecordPayment(ctx, in)
	assert.True(t, shared.IsDuplicateExternalID(err))

	missing, err := ledger.FindByExternalID(ctx, "pi_none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	p, err = ledger.UpdateStatus(ctx, p.ID, payments.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCompleted, p.Status)

	_, err = ledger.UpdateStatus(ctx, p.ID, payments.StatusCompleted)
	require.NoError(t, err)

	_, err = ledger.UpdateStatus(ctx, p.ID, payments.StatusFailed)
	assert.ErrorIs(t, err, payments.ErrInvalidPaymentTransition)

	p, err = ledger.UpdateStatus(ctx, p.ID, payments.StatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusRefunded, p.Status)
}

func TestListFiltersOverdue(t *testing.T) {
	store := New()
	repo := store.Documents()
	owner := uuid.New()
	doc := seedInvoice(t, repo, owner, "100")
	due := shared.NewDate(time.Now().AddDate(0, 0, -3))
	doc.DueDate = &due
	_, err := repo.Update(context.Background(), *doc, doc.Version)
	require.NoError(t, err)
	seedInvoice(t, repo, owner, "50")

	list, total, err := repo.List(context.Background(), owner, documents.ListFilter{Status: documents.StatusOverdue})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, doc.ID, list[0].ID)
}
