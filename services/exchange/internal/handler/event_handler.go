package handler

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/kyungseok/msa-exchange-go/common/errors"
	"github.com/kyungseok/msa-exchange-go/common/events"
	"github.com/kyungseok/msa-exchange-go/common/idempotency"
	"github.com/kyungseok/msa-exchange-go/common/messaging"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/service"
	"go.uber.org/zap"
)

const processedTTL = 24 * time.Hour

// EventHandler 이벤트 핸들러
type EventHandler struct {
	exchangeService service.ExchangeService
	idemStore       idempotency.Store
	logger          *zap.Logger
}

// NewEventHandler 이벤트 핸들러 생성
func NewEventHandler(
	exchangeService service.ExchangeService,
	idemStore idempotency.Store,
	logger *zap.Logger,
) *EventHandler {
	return &EventHandler{
		exchangeService: exchangeService,
		idemStore:       idemStore,
		logger:          logger.Named("event-handler"),
	}
}

// Topics 구독 토픽
func (h *EventHandler) Topics() []string {
	return []string{string(events.EventExchangeReconciliationRequired)}
}

// HandleMessage 메시지 처리
func (h *EventHandler) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	h.logger.Info("received message",
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset))

	switch events.EventType(msg.Topic) {
	case events.EventExchangeReconciliationRequired:
		return h.handleReconciliationRequired(ctx, msg)
	default:
		h.logger.Warn("unknown event type", zap.String("topic", msg.Topic))
		return nil
	}
}

func (h *EventHandler) handleReconciliationRequired(ctx context.Context, msg *messaging.Message) error {
	var evt events.ReconciliationRequiredEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeSerializationError, "failed to decode reconciliation event", err)
	}

	// 멱등성 체크
	if processed, _ := h.idemStore.IsProcessed(ctx, evt.EventID); processed {
		h.logger.Info("event already processed", zap.String("eventId", evt.EventID))
		return nil
	}

	res, err := h.exchangeService.ReconcileExchange(ctx, evt.ExchangeID, service.SystemActorID)
	if err != nil {
		return err
	}
	h.logger.Info("reconciliation event handled",
		zap.String("eventId", evt.EventID),
		zap.String("exchangeId", evt.ExchangeID),
		zap.Strings("failedSteps", evt.FailedSteps),
		zap.Strings("repaired", res.Repaired))

	// 처리 완료 표시
	if _, err := h.idemStore.Reserve(ctx, evt.EventID, processedTTL); err != nil {
		h.logger.Warn("failed to mark event processed", zap.String("eventId", evt.EventID), zap.Error(err))
	}
	return nil
}
