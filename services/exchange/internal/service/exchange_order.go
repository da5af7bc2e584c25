package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	apperrors "github.com/kyungseok/msa-exchange-go/common/errors"
	"github.com/kyungseok/msa-exchange-go/common/events"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
	"go.uber.org/zap"
)

// 후속 기록 단계 이름 (로그/이벤트 태그)
const (
	stepMarkExchanged        = "mark_exchanged"
	stepUpdateLineage        = "update_lineage"
	stepAppendLedger         = "append_ledger"
	stepScheduleReturnPickup = "schedule_return_pickup"
)

var errLinkLost = errors.New("exchange order link lost to concurrent request")

// CreateExchangeOrder 교환 주문 생성. 교환 당 최대 한 번만 주문이 만들어진다.
//
// 연결 CAS, 주문, 주문 항목, 재고 차감은 한 트랜잭션이다. 원주문 표시, 체인 배치, 원장 기록은
// 커밋 이후 best-effort 로 수행하고 실패하면 보정 대상으로 남긴다.
func (s *exchangeService) CreateExchangeOrder(ctx context.Context, exchangeID, actorID string) (*CreateExchangeOrderResult, error) {
	if actorID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "actor id is required")
	}

	ex, err := s.loadExchange(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if ex.IsLinked() {
		return s.existingLink(ctx, ex)
	}
	if _, err := domain.NextStatus(ex.Status, domain.ActionCreateOrder); err != nil {
		return nil, err
	}

	origin, err := s.loadOrigin(ctx, ex, actorID)
	if err != nil {
		return nil, err
	}
	product, err := s.products.FindByID(ctx, ex.ExchangeProductID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.ErrCodePrereqNotLoaded, "exchange product not found", err)
		}
		return nil, repoErr(err, "failed to load exchange product")
	}

	number, err := s.ids.OrderNumber()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeUnknownError, "failed to generate order number", err)
	}

	now := s.now()
	order := domain.NewExchangeOrderDraft(origin, uuid.NewString(), number, now)
	item := domain.NewExchangeOrderItem(uuid.NewString(), order.ID, product, ex.Quantity, now)
	var fromStatus domain.ExchangeStatus

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		prev, ok, err := s.exchanges.LinkExchangeOrder(ctx, ex.ID, order.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errLinkLost
		}
		fromStatus = prev
		if err := s.orders.Create(ctx, order); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeConstraintViolation) {
				s.logger.Error("exchange order draft violated zero-amount constraint",
					zap.String("exchangeId", ex.ID),
					zap.String("orderNumber", order.OrderNumber),
					zap.Error(err))
			}
			return err
		}
		if err := s.orders.CreateItem(ctx, item); err != nil {
			return err
		}
		if s.opts.DecrementStock {
			if err := s.products.DecrementStock(ctx, product.ID, ex.Quantity); err != nil {
				return err
			}
		}
		if err := s.recordTransition(ctx, ex.ID, fromStatus, domain.ExchangeStatusExchangeShipped, actorID, "exchange order "+order.OrderNumber); err != nil {
			return err
		}
		return s.enqueue(ctx, ex.ID, events.ExchangeOrderCreatedEvent{
			BaseEvent:           s.baseEvent(events.EventExchangeOrderCreated, ex.ID, actorID),
			ExchangeID:          ex.ID,
			ExchangeNumber:      ex.ExchangeNumber,
			OriginalOrderID:     origin.ID,
			ExchangeOrderID:     order.ID,
			ExchangeOrderNumber: order.OrderNumber,
			CustomerID:          ex.CustomerID,
			ExchangeProductID:   ex.ExchangeProductID,
			Quantity:            ex.Quantity,
		})
	})
	if errors.Is(err, errLinkLost) {
		current, loadErr := s.loadExchange(ctx, ex.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		if current.IsLinked() {
			s.logger.Info("exchange order created by concurrent request",
				zap.String("exchangeId", ex.ID),
				zap.String("exchangeOrderId", *current.ExchangeOrderID))
			return s.existingLink(ctx, current)
		}
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidStateTransition,
			"cannot create exchange order in status %s", current.Status)
	}
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			return nil, apperrors.Wrap(apperrors.ErrCodeOutOfStock, "exchange product is out of stock", err)
		}
		if errors.Is(err, repository.ErrDuplicate) {
			s.logger.Error("duplicate exchange order creation slipped past link guard",
				zap.String("exchangeId", ex.ID), zap.Error(err))
			return nil, apperrors.Wrap(apperrors.ErrCodeConstraintViolation, "duplicate exchange order", err)
		}
		return nil, repoErr(err, "failed to create exchange order")
	}

	ex.ExchangeOrderID = &order.ID
	ex.Status = domain.ExchangeStatusExchangeShipped
	ex.UpdatedAt = now

	s.logger.Info("exchange order created",
		zap.String("exchangeId", ex.ID),
		zap.String("exchangeOrderId", order.ID),
		zap.String("orderNumber", order.OrderNumber),
		zap.String("actorId", actorID))

	failed, updated := s.applyBookkeeping(ctx, ex, origin, order)
	if updated != nil {
		order = updated
	}
	if len(failed) > 0 {
		s.flagForReconciliation(ctx, ex, failed, actorID)
	}

	return &CreateExchangeOrderResult{
		Exchange:              ex,
		Order:                 order,
		Items:                 []*domain.OrderItem{item},
		Created:               true,
		PendingReconciliation: len(failed) > 0,
	}, nil
}

// loadOrigin 원주문 조회. 원주문이 체인 배치가 빠진 교환 주문이면 먼저 보정한다
func (s *exchangeService) loadOrigin(ctx context.Context, ex *domain.Exchange, actorID string) (*domain.Order, error) {
	origin, err := s.orders.FindByID(ctx, ex.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.ErrCodePrereqNotLoaded, "originating order not found", err)
		}
		return nil, repoErr(err, "failed to load originating order")
	}
	if !origin.IsExchangeOrder() || origin.HasLineage() {
		return origin, nil
	}

	pred, err := s.exchanges.FindByExchangeOrderID(ctx, origin.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodePrereqNotLoaded, "originating order has no lineage", err)
	}
	s.logger.Warn("originating order lineage missing; reconciling predecessor first",
		zap.String("exchangeId", ex.ID),
		zap.String("predecessorExchangeId", pred.ID))
	if _, err := s.ReconcileExchange(ctx, pred.ID, actorID); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodePrereqNotLoaded, "failed to reconcile originating order lineage", err)
	}

	origin, err = s.orders.FindByID(ctx, ex.OrderID)
	if err != nil {
		return nil, repoErr(err, "failed to reload originating order")
	}
	return origin, nil
}

func (s *exchangeService) existingLink(ctx context.Context, ex *domain.Exchange) (*CreateExchangeOrderResult, error) {
	order, err := s.orders.FindByID(ctx, *ex.ExchangeOrderID)
	if err != nil {
		return nil, repoErr(err, "failed to load linked exchange order")
	}
	items, err := s.orders.FindItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, repoErr(err, "failed to load linked exchange order items")
	}
	return &CreateExchangeOrderResult{
		Exchange: ex,
		Order:    order,
		Items:    items,
		Created:  false,
	}, nil
}

// applyBookkeeping 원주문 표시, 체인 배치, 원장 기록. 실패한 단계 이름을 반환
func (s *exchangeService) applyBookkeeping(ctx context.Context, ex *domain.Exchange, origin, order *domain.Order) ([]string, *domain.Order) {
	var failed []string
	log := s.logger.With(zap.String("exchangeId", ex.ID), zap.String("exchangeOrderId", order.ID))

	if _, err := s.orders.MarkExchanged(ctx, origin.ID); err != nil {
		log.Warn("failed to mark originating order exchanged", zap.Error(err))
		failed = append(failed, stepMarkExchanged)
	}

	lineage := domain.NextLineage(origin)
	updated, err := s.orders.UpdateLineage(ctx, order.ID, lineage)
	if err != nil {
		log.Warn("failed to place exchange order in chain", zap.Error(err))
		failed = append(failed, stepUpdateLineage)
	}

	if err := s.appendLedger(ctx, ex, order.ID, lineage); err != nil {
		log.Warn("failed to append ledger entry", zap.Error(err))
		failed = append(failed, stepAppendLedger)
	}

	return failed, updated
}

// appendLedger 이미 기록된 경우는 성공으로 본다
func (s *exchangeService) appendLedger(ctx context.Context, ex *domain.Exchange, exchangeOrderID string, lineage domain.Lineage) error {
	entry := domain.NewLedgerEntry(uuid.NewString(), ex, exchangeOrderID, lineage, s.now())
	err := s.ledger.Append(ctx, entry)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	return err
}

// flagForReconciliation PARTIAL_COMPLETION 경고 + 보정 요청 이벤트
func (s *exchangeService) flagForReconciliation(ctx context.Context, ex *domain.Exchange, failed []string, actorID string) {
	s.logger.Warn("exchange order created with incomplete bookkeeping",
		zap.String("code", string(apperrors.ErrCodePartialCompletion)),
		zap.String("exchangeId", ex.ID),
		zap.String("exchangeOrderId", *ex.ExchangeOrderID),
		zap.Strings("failedSteps", failed))

	err := s.enqueue(ctx, ex.ID, events.ReconciliationRequiredEvent{
		BaseEvent:       s.baseEvent(events.EventExchangeReconciliationRequired, ex.ID, actorID),
		ExchangeID:      ex.ID,
		ExchangeOrderID: *ex.ExchangeOrderID,
		FailedSteps:     failed,
	})
	if err != nil {
		// 주기 보정 워커가 조회 쿼리로 다시 찾아낸다
		s.logger.Error("failed to enqueue reconciliation event",
			zap.String("exchangeId", ex.ID),
			zap.Error(err))
	}
}

// ReconcileExchange 연결된 교환의 누락된 후속 기록을 채운다. 여러 번 호출해도 안전
func (s *exchangeService) ReconcileExchange(ctx context.Context, exchangeID, actorID string) (*ReconcileResult, error) {
	ex, err := s.loadExchange(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if !ex.IsLinked() {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidStateTransition,
			"exchange in status %s has no exchange order to reconcile", ex.Status)
	}

	origin, err := s.loadOrigin(ctx, ex, actorID)
	if err != nil {
		return nil, err
	}
	replacement, err := s.orders.FindByID(ctx, *ex.ExchangeOrderID)
	if err != nil {
		return nil, repoErr(err, "failed to load exchange order")
	}

	result := &ReconcileResult{ExchangeID: ex.ID}
	log := s.logger.With(zap.String("exchangeId", ex.ID), zap.String("actorId", actorID))

	if !origin.HasBeenExchanged {
		if _, err := s.orders.MarkExchanged(ctx, origin.ID); err != nil {
			return result, repoErr(err, "failed to mark originating order exchanged")
		}
		result.Repaired = append(result.Repaired, stepMarkExchanged)
	}

	lineage := domain.NextLineage(origin)
	if !replacement.HasLineage() ||
		*replacement.OriginalOrderID != lineage.RootOrderID ||
		*replacement.ExchangeChainLevel != lineage.Level {
		if replacement.HasLineage() {
			log.Error("exchange order lineage disagrees with originating order",
				zap.String("code", string(apperrors.ErrCodeConstraintViolation)),
				zap.String("recordedRoot", *replacement.OriginalOrderID),
				zap.Int("recordedLevel", *replacement.ExchangeChainLevel),
				zap.String("expectedRoot", lineage.RootOrderID),
				zap.Int("expectedLevel", lineage.Level))
		}
		if _, err := s.orders.UpdateLineage(ctx, replacement.ID, lineage); err != nil {
			return result, repoErr(err, "failed to update exchange order lineage")
		}
		result.Repaired = append(result.Repaired, stepUpdateLineage)
	}

	entries, err := s.ledger.FindByExchangeID(ctx, ex.ID)
	if err != nil {
		return result, repoErr(err, "failed to read ledger")
	}
	if !hasEntryFor(entries, replacement.ID) {
		if err := s.appendLedger(ctx, ex, replacement.ID, lineage); err != nil {
			return result, repoErr(err, "failed to append ledger entry")
		}
		result.Repaired = append(result.Repaired, stepAppendLedger)
	}

	if ex.MissingPickup() {
		recorded, err := s.recordMissingPickup(ctx, ex, actorID)
		if err != nil {
			return result, err
		}
		if recorded {
			result.Repaired = append(result.Repaired, stepScheduleReturnPickup)
		}
	}

	if len(result.Repaired) > 0 {
		log.Info("exchange reconciled", zap.Strings("repaired", result.Repaired))
	}
	return result, nil
}

// recordMissingPickup 승인 상태에서 교환 주문이 먼저 나간 교환의 회수를 예약. 상태는 exchange_shipped 유지
func (s *exchangeService) recordMissingPickup(ctx context.Context, ex *domain.Exchange, actorID string) (bool, error) {
	scheduledAt, err := s.callPickup(ctx, ex)
	if err != nil {
		s.logger.Warn("return pickup still unscheduled",
			zap.String("exchangeId", ex.ID),
			zap.Error(err))
		return false, apperrors.Wrap(apperrors.ErrCodeExternalCapabilityFailure,
			"return pickup scheduling failed; retry reconciliation", err)
	}

	var recorded bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.exchanges.RecordPickup(ctx, ex.ID, scheduledAt)
		if err != nil || !ok {
			return err
		}
		recorded = true
		return s.enqueuePickupScheduled(ctx, ex, scheduledAt, actorID)
	})
	if err != nil {
		return false, repoErr(err, "failed to record return pickup")
	}
	return recorded, nil
}

func hasEntryFor(entries []*domain.LedgerEntry, exchangeOrderID string) bool {
	for _, e := range entries {
		if e.ExchangeOrderID == exchangeOrderID {
			return true
		}
	}
	return false
}

// ReconcilePending 보정이 필요한 교환을 한 번에 limit 건까지 처리
func (s *exchangeService) ReconcilePending(ctx context.Context, limit int, actorID string) (*ReconcileSummary, error) {
	list, err := s.ListNeedingReconciliation(ctx, limit)
	if err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{Checked: len(list)}
	for _, ex := range list {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		res, err := s.ReconcileExchange(ctx, ex.ID, actorID)
		if err != nil {
			summary.Failed++
			s.logger.Error("failed to reconcile exchange",
				zap.String("exchangeId", ex.ID),
				zap.Error(err))
			continue
		}
		if len(res.Repaired) > 0 {
			summary.Repaired++
		}
	}
	return summary, nil
}

func (s *exchangeService) ListNeedingReconciliation(ctx context.Context, limit int) ([]*domain.Exchange, error) {
	list, err := s.exchanges.FindNeedingReconciliation(ctx, ClampListLimit(limit))
	if err != nil {
		return nil, repoErr(err, "failed to find exchanges needing reconciliation")
	}
	return list, nil
}
