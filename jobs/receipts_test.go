package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildledger/buildledger/internal/documents"
	jobmetrics "github.com/buildledger/buildledger/internal/jobs"
	"github.com/buildledger/buildledger/internal/mail"
	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/profile"
	"github.com/buildledger/buildledger/internal/store/memory"
)

type recordingMailer struct {
	err  error
	sent []mail.Message
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "em_1", nil
}

type receiptFixture struct {
	store   *memory.Store
	mailer  *recordingMailer
	job     *ReceiptJob
	owner   uuid.UUID
	invoice *documents.Document
	payment *payments.Payment
}

func newReceiptFixture(t *testing.T, status payments.Status) *receiptFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	owner := uuid.New()
	total := decimal.RequireFromString("500.00")
	invoice, err := store.Documents().Create(ctx, documents.Document{
		ID:          uuid.New(),
		Kind:        documents.KindInvoice,
		Number:      "INV-0003",
		OwnerID:     owner,
		ClientName:  "Dana Ruiz",
		ClientEmail: "dana@example.com",
		SentTo:      "accounts@ruiz.example",
		Status:      documents.StatusPartial,
		Total:       total,
		BalanceDue:  decimal.RequireFromString("200.00"),
	})
	require.NoError(t, err)
	payment, err := store.Payments().RecordPayment(ctx, payments.RecordInput{
		OwnerID:    owner,
		InvoiceID:  invoice.ID,
		Amount:     decimal.RequireFromString("300.00"),
		Method:     payments.MethodStripe,
		ExternalID: "pi_receipt",
		Status:     status,
	})
	require.NoError(t, err)

	mailer := &recordingMailer{}
	job := NewReceiptJob(store.Documents(), store.Payments(), mailer, mail.NewComposer("USD"), store.Profiles(),
		slog.New(slog.NewTextHandler(io.Discard, nil)), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	return &receiptFixture{store: store, mailer: mailer, job: job, owner: owner, invoice: invoice, payment: payment}
}

func (f *receiptFixture) task(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewPaymentReceiptTask(PaymentReceiptPayload{OwnerID: f.owner, InvoiceID: f.invoice.ID, PaymentID: f.payment.ID})
	require.NoError(t, err)
	return task
}

func TestReceiptJobSendsToSentAddress(t *testing.T) {
	f := newReceiptFixture(t, payments.StatusCompleted)

	require.NoError(t, f.job.Handle(context.Background(), f.task(t)))

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, "accounts@ruiz.example", msg.To)
	assert.Equal(t, "Payment received for invoice INV-0003", msg.Subject)
	assert.Contains(t, msg.HTML, "300.00")
	assert.Contains(t, msg.HTML, "200.00")
}

func TestReceiptJobSignsWithBusinessProfile(t *testing.T) {
	f := newReceiptFixture(t, payments.StatusCompleted)
	ctx := context.Background()
	_, err := f.store.Profiles().Upsert(ctx, profile.Profile{
		OwnerID:      f.owner,
		BusinessName: "Ruiz Roofing",
		Email:        "billing@ruizroofing.example",
	})
	require.NoError(t, err)

	require.NoError(t, f.job.Handle(ctx, f.task(t)))

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, "Payment received for invoice INV-0003 from Ruiz Roofing", msg.Subject)
	assert.Equal(t, "billing@ruizroofing.example", msg.ReplyTo)
}

func TestReceiptJobSendsOnce(t *testing.T) {
	f := newReceiptFixture(t, payments.StatusCompleted)
	ctx := context.Background()

	require.NoError(t, f.job.Handle(ctx, f.task(t)))
	require.NoError(t, f.job.Handle(ctx, f.task(t)))
	assert.Len(t, f.mailer.sent, 1)

	stored, err := f.store.Payments().Get(ctx, f.owner, f.payment.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ReceiptSentAt)
}

func TestReceiptJobSkipsUnsettledPayment(t *testing.T) {
	f := newReceiptFixture(t, payments.StatusPending)

	require.NoError(t, f.job.Handle(context.Background(), f.task(t)))
	assert.Empty(t, f.mailer.sent)
}

func TestReceiptJobSkipsForeignOwner(t *testing.T) {
	f := newReceiptFixture(t, payments.StatusCompleted)
	task, err := NewPaymentReceiptTask(PaymentReceiptPayload{OwnerID: uuid.New(), InvoiceID: f.invoice.ID, PaymentID: f.payment.ID})
	require.NoError(t, err)

	require.NoError(t, f.job.Handle(context.Background(), task))
	assert.Empty(t, f.mailer.sent)
}

func TestReceiptJobRejectsBadPayload(t *testing.T) {
	f := newReceiptFixture(t, payments.StatusCompleted)

	err := f.job.Handle(context.Background(), asynq.NewTask(TaskPaymentReceipt, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	data, _ := json.Marshal(PaymentReceiptPayload{OwnerID: f.owner})
	err = f.job.Handle(context.Background(), asynq.NewTask(TaskPaymentReceipt, data))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReceiptJobRetriesMailerFailure(t *testing.T) {
	f := newReceiptFixture(t, payments.StatusCompleted)
	f.mailer.err = errors.New("resend: 502")

	err := f.job.Handle(context.Background(), f.task(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	stored, err := f.store.Payments().Get(context.Background(), f.owner, f.payment.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ReceiptSentAt)
}

func TestPaymentReceiptTaskOptions(t *testing.T) {
	payment := uuid.New()
	task, err := NewPaymentReceiptTask(PaymentReceiptPayload{OwnerID: uuid.New(), InvoiceID: uuid.New(), PaymentID: payment})
	require.NoError(t, err)
	assert.Equal(t, TaskPaymentReceipt, task.Type())

	var decoded PaymentReceiptPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, payment, decoded.PaymentID)
}
