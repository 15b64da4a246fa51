package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueuePaymentReceiptDeduplicates(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	owner, invoice, payment := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, client.EnqueuePaymentReceipt(ctx, owner, invoice, payment))
	require.NoError(t, client.EnqueuePaymentReceipt(ctx, owner, invoice, payment))
	require.NoError(t, client.EnqueuePaymentReceipt(ctx, owner, invoice, uuid.New()))

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.Contains(t, pending, "receipt:"+payment.String())
}

func TestNewWorkerSkipsIncompleteHandlers(t *testing.T) {
	mr := miniredis.RunT(t)
	worker, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Handlers: []TaskHandler{
			{Type: TaskPaymentReceipt, Handler: func(context.Context, *asynq.Task) error { return nil }},
			{Type: "", Handler: nil},
		},
	})
	require.NoError(t, err)
	assert.NotNil(t, worker.mux)
	assert.Nil(t, worker.scheduler)
}

func TestNewWorkerRegistersReceiptSweep(t *testing.T) {
	mr := miniredis.RunT(t)
	worker, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Cron: []CronRegistration{
			{Spec: ReceiptSweepSpec, Task: NewReceiptSweepTask()},
			{Spec: "", Task: NewReceiptSweepTask()},
		},
	})
	require.NoError(t, err)
	assert.NotNil(t, worker.scheduler)

	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Cron:      []CronRegistration{{Spec: "every tuesday", Task: NewReceiptSweepTask()}},
	})
	assert.Error(t, err)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, QueueDefault, body.Queue)
	assert.Zero(t, body.Pending)
}
