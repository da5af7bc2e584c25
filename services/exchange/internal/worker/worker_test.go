package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository/memory"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic, key string, event interface{}) error {
	return m.Called(ctx, topic, key, event).Error(0)
}

func (m *mockPublisher) Close() error { return nil }

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) ReconcilePending(ctx context.Context, limit int, actorID string) (*service.ReconcileSummary, error) {
	args := m.Called(ctx, limit, actorID)
	s, _ := args.Get(0).(*service.ReconcileSummary)
	return s, args.Error(1)
}

func seedOutbox(t *testing.T, outbox repository.OutboxRepository, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, outbox.Insert(context.Background(), &repository.OutboxEvent{
			ID:            id,
			AggregateType: "exchange",
			AggregateID:   "ex-" + id,
			EventType:     "exchange.created.v1",
			Payload:       json.RawMessage(`{"exchangeId":"ex-` + id + `"}`),
			Status:        repository.OutboxStatusPending,
			CreatedAt:     time.Now(),
		}))
	}
}

func TestOutboxWorker_PublishesKeyedByExchange(t *testing.T) {
	store := memory.NewStore()
	seedOutbox(t, store.Outbox(), "1", "2")

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "exchange.created.v1", "ex-1", json.RawMessage(`{"exchangeId":"ex-1"}`)).Return(nil).Once()
	pub.On("Publish", mock.Anything, "exchange.created.v1", "ex-2", json.RawMessage(`{"exchangeId":"ex-2"}`)).Return(nil).Once()

	w := NewOutboxWorker(store.Outbox(), pub, zap.NewNop(), time.Second, 10)
	sent, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	pub.AssertExpectations(t)

	pending, err := store.Outbox().FindPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxWorker_StopsBatchOnPublishFailure(t *testing.T) {
	store := memory.NewStore()
	seedOutbox(t, store.Outbox(), "1", "2")

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, "ex-1", mock.Anything).Return(errors.New("broker down")).Once()

	w := NewOutboxWorker(store.Outbox(), pub, zap.NewNop(), time.Second, 10)
	sent, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	pub.AssertNumberOfCalls(t, "Publish", 1)

	pending, err := store.Outbox().FindPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestOutboxWorker_StartStopsWithContext(t *testing.T) {
	store := memory.NewStore()
	seedOutbox(t, store.Outbox(), "1")

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	w := NewOutboxWorker(store.Outbox(), pub, zap.NewNop(), 5*time.Millisecond, 10)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool {
		pending, err := store.Outbox().FindPending(context.Background(), 0)
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestReconcileWorker_RunOnce(t *testing.T) {
	rec := &mockReconciler{}
	rec.On("ReconcilePending", mock.Anything, 25, service.SystemActorID).
		Return(&service.ReconcileSummary{Checked: 3, Repaired: 2, Failed: 1}, nil).Once()

	w := NewReconcileWorker(rec, zap.NewNop(), time.Minute, 25)
	summary := w.RunOnce(context.Background())

	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Repaired)
	rec.AssertExpectations(t)
}

func TestReconcileWorker_ErrorIsLogged(t *testing.T) {
	rec := &mockReconciler{}
	rec.On("ReconcilePending", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()

	w := NewReconcileWorker(rec, zap.NewNop(), time.Minute, 25)
	assert.Nil(t, w.RunOnce(context.Background()))
}
