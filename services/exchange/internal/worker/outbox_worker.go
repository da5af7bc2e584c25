package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kyungseok/msa-exchange-go/common/messaging"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
	"go.uber.org/zap"
)

// OutboxWorker Outbox 패턴 워커
type OutboxWorker struct {
	outboxRepo repository.OutboxRepository
	publisher  messaging.Publisher
	logger     *zap.Logger
	interval   time.Duration
	batchSize  int
}

// NewOutboxWorker Outbox 워커 생성
func NewOutboxWorker(
	outboxRepo repository.OutboxRepository,
	publisher messaging.Publisher,
	logger *zap.Logger,
	interval time.Duration,
	batchSize int,
) *OutboxWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxWorker{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		logger:     logger.Named("outbox-worker"),
		interval:   interval,
		batchSize:  batchSize,
	}
}

// Start 워커 시작. ctx 가 끝나면 반환
func (w *OutboxWorker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				w.logger.Error("failed to process outbox events", zap.Error(err))
			}
		}
	}
}

// ProcessOnce 대기 중인 이벤트를 한 배치 발행. 발행된 건수 반환
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	events, err := w.outboxRepo.FindPending(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	w.logger.Debug("processing outbox events", zap.Int("count", len(events)))

	sent := 0
	for _, event := range events {
		// 교환 ID 를 키로 사용 (교환 단위 순서 보장)
		err := w.publisher.Publish(ctx, event.EventType, event.AggregateID, json.RawMessage(event.Payload))
		if err != nil {
			// 순서를 지키기 위해 이번 배치는 여기서 중단
			w.logger.Error("failed to publish event",
				zap.String("eventId", event.ID),
				zap.String("eventType", event.EventType),
				zap.Error(err))
			return sent, nil
		}

		// 전송 완료 표시
		if err := w.outboxRepo.MarkSent(ctx, event.ID); err != nil {
			w.logger.Error("failed to mark event as sent",
				zap.String("eventId", event.ID),
				zap.Error(err))
			continue
		}
		sent++
	}

	return sent, nil
}
