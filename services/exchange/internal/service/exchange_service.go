package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/kyungseok/msa-exchange-go/common/errors"
	"github.com/kyungseok/msa-exchange-go/common/events"
	"github.com/kyungseok/msa-exchange-go/common/retry"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/pickup"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
	"go.uber.org/zap"
)

// SystemActorID 워커/컨슈머가 수행하는 작업의 행위자
const SystemActorID = "system"

// NumberGenerator 사람이 읽는 번호 생성기
type NumberGenerator interface {
	ExchangeNumber() (string, error)
	OrderNumber() (string, error)
}

// Options 엔진 동작 설정
type Options struct {
	PickupTimeout      time.Duration
	PickupRetry        retry.Config
	RequireRejectNotes bool
	DecrementStock     bool
}

// DefaultOptions 기본 설정
func DefaultOptions() Options {
	return Options{
		PickupTimeout: 5 * time.Second,
		PickupRetry: retry.Config{
			MaxAttempts:        3,
			InitialInterval:    200 * time.Millisecond,
			MaxInterval:        2 * time.Second,
			BackoffCoefficient: 2.0,
			MaxElapsedTime:     30 * time.Second,
			ShouldRetry:        pickup.IsTransient,
		},
		DecrementStock: true,
	}
}

// Deps 엔진 의존성
type Deps struct {
	Tx        repository.Transactor
	Orders    repository.OrderRepository
	Products  repository.ProductRepository
	Exchanges repository.ExchangeRepository
	Ledger    repository.LedgerRepository
	Outbox    repository.OutboxRepository
	Pickup    pickup.Scheduler
	IDs       NumberGenerator
	Logger    *zap.Logger
	Options   Options
}

// CreateExchangeCommand 교환 요청 생성 커맨드
type CreateExchangeCommand struct {
	OrderID           string
	OrderItemID       string
	CustomerID        string
	ReturnProductID   string
	ExchangeProductID string
	Quantity          int
	Reason            string
	Description       string
	IdempotencyKey    string
	ActorID           string
}

// DecisionCommand 승인/거절 커맨드
type DecisionCommand struct {
	ExchangeID string
	ActorID    string
	Notes      string
}

// CreateExchangeOrderResult 교환 주문 생성 결과
type CreateExchangeOrderResult struct {
	Exchange *domain.Exchange    `json:"exchange"`
	Order    *domain.Order       `json:"order"`
	Items    []*domain.OrderItem `json:"items"`
	// Created 이번 호출에서 주문이 만들어졌는지 (false 면 기존 연결 반환)
	Created bool `json:"created"`
	// PendingReconciliation 후속 기록 일부가 실패해 보정 대기 중
	PendingReconciliation bool `json:"pendingReconciliation"`
}

// LedgerQuery 원장 조회 조건. 정확히 하나만 지정
type LedgerQuery struct {
	ExchangeID      string
	OriginalOrderID string
	RootOrderID     string
	CustomerID      string
}

// ReconcileResult 단건 보정 결과
type ReconcileResult struct {
	ExchangeID string   `json:"exchangeId"`
	Repaired   []string `json:"repaired"`
}

// ReconcileSummary 일괄 보정 결과
type ReconcileSummary struct {
	Checked  int `json:"checked"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// ExchangeService 교환 워크플로우 엔진
type ExchangeService interface {
	CreateExchange(ctx context.Context, cmd CreateExchangeCommand) (*domain.Exchange, error)
	ApproveExchange(ctx context.Context, cmd DecisionCommand) (*domain.Exchange, error)
	RejectExchange(ctx context.Context, cmd DecisionCommand) (*domain.Exchange, error)
	CreateExchangeOrder(ctx context.Context, exchangeID, actorID string) (*CreateExchangeOrderResult, error)

	GetExchange(ctx context.Context, id string) (*domain.Exchange, error)
	ListExchanges(ctx context.Context, filter repository.ExchangeFilter) ([]*domain.Exchange, error)
	ListTransitions(ctx context.Context, exchangeID string) ([]*domain.ExchangeTransition, error)
	GetChainForOrder(ctx context.Context, orderID string) ([]*domain.Order, error)
	ListLedger(ctx context.Context, q LedgerQuery) ([]*domain.LedgerEntry, error)

	ReconcileExchange(ctx context.Context, exchangeID, actorID string) (*ReconcileResult, error)
	ReconcilePending(ctx context.Context, limit int, actorID string) (*ReconcileSummary, error)
	ListNeedingReconciliation(ctx context.Context, limit int) ([]*domain.Exchange, error)
}

type exchangeService struct {
	tx        repository.Transactor
	orders    repository.OrderRepository
	products  repository.ProductRepository
	exchanges repository.ExchangeRepository
	ledger    repository.LedgerRepository
	outbox    repository.OutboxRepository
	pickup    pickup.Scheduler
	ids       NumberGenerator
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewExchangeService 교환 서비스 생성
func NewExchangeService(d Deps) ExchangeService {
	return &exchangeService{
		tx:        d.Tx,
		orders:    d.Orders,
		products:  d.Products,
		exchanges: d.Exchanges,
		ledger:    d.Ledger,
		outbox:    d.Outbox,
		pickup:    d.Pickup,
		ids:       d.IDs,
		opts:      d.Options,
		logger:    d.Logger.Named("exchange-service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateExchange 교환 요청 생성 (pending). 원장 기록 없음
func (s *exchangeService) CreateExchange(ctx context.Context, cmd CreateExchangeCommand) (*domain.Exchange, error) {
	if err := validateCreate(cmd); err != nil {
		return nil, err
	}

	if cmd.IdempotencyKey != "" {
		existing, err := s.exchanges.FindByIdempotencyKey(ctx, cmd.CustomerID, cmd.IdempotencyKey)
		if err == nil {
			return s.replayCreate(existing, cmd)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, repoErr(err, "failed to check idempotency key")
		}
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, repoErr(err, "order not found")
	}
	if order.CustomerID != cmd.CustomerID {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "order does not belong to customer")
	}

	item, err := s.orders.FindItemByID(ctx, cmd.OrderItemID)
	if err != nil {
		return nil, repoErr(err, "order item not found")
	}
	if item.OrderID != order.ID {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "order item does not belong to order")
	}
	if item.ProductID != cmd.ReturnProductID {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "return product does not match order item")
	}
	if cmd.Quantity > item.Quantity {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidRequest,
			"quantity %d exceeds purchased quantity %d", cmd.Quantity, item.Quantity)
	}

	if _, err := s.products.FindByID(ctx, cmd.ExchangeProductID); err != nil {
		return nil, repoErr(err, "exchange product not found")
	}

	open, err := s.exchanges.HasOpenForItem(ctx, item.ID)
	if err != nil {
		return nil, repoErr(err, "failed to check open exchanges")
	}
	if open {
		return nil, apperrors.New(apperrors.ErrCodeDuplicateRequest, "order item already has an open exchange")
	}

	number, err := s.ids.ExchangeNumber()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeUnknownError, "failed to generate exchange number", err)
	}

	now := s.now()
	ex := &domain.Exchange{
		ID:                uuid.NewString(),
		ExchangeNumber:    number,
		OrderID:           order.ID,
		OrderItemID:       item.ID,
		CustomerID:        cmd.CustomerID,
		ReturnProductID:   cmd.ReturnProductID,
		ExchangeProductID: cmd.ExchangeProductID,
		Quantity:          cmd.Quantity,
		Status:            domain.ExchangeStatusPending,
		Reason:            cmd.Reason,
		Description:       cmd.Description,
		IdempotencyKey:    cmd.IdempotencyKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.exchanges.Create(ctx, ex); err != nil {
			return err
		}
		if err := s.recordTransition(ctx, ex.ID, "", domain.ExchangeStatusPending, cmd.ActorID, cmd.Reason); err != nil {
			return err
		}
		return s.enqueue(ctx, ex.ID, events.ExchangeCreatedEvent{
			BaseEvent:         s.baseEvent(events.EventExchangeCreated, ex.ID, cmd.ActorID),
			ExchangeID:        ex.ID,
			ExchangeNumber:    ex.ExchangeNumber,
			OrderID:           ex.OrderID,
			OrderItemID:       ex.OrderItemID,
			CustomerID:        ex.CustomerID,
			ReturnProductID:   ex.ReturnProductID,
			ExchangeProductID: ex.ExchangeProductID,
			Quantity:          ex.Quantity,
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) && cmd.IdempotencyKey != "" {
			if existing, findErr := s.exchanges.FindByIdempotencyKey(ctx, cmd.CustomerID, cmd.IdempotencyKey); findErr == nil {
				return s.replayCreate(existing, cmd)
			}
		}
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Wrap(apperrors.ErrCodeDuplicateRequest, "order item already has an open exchange", err)
		}
		return nil, repoErr(err, "failed to create exchange")
	}

	s.logger.Info("exchange created",
		zap.String("exchangeId", ex.ID),
		zap.String("exchangeNumber", ex.ExchangeNumber),
		zap.String("orderId", ex.OrderID),
		zap.String("actorId", cmd.ActorID))

	return ex, nil
}

// replayCreate 같은 멱등 키의 재요청이면 기존 교환을 반환. 내용이 다르면 DUPLICATE_REQUEST
func (s *exchangeService) replayCreate(existing *domain.Exchange, cmd CreateExchangeCommand) (*domain.Exchange, error) {
	if existing.CustomerID != cmd.CustomerID ||
		existing.OrderID != cmd.OrderID ||
		existing.OrderItemID != cmd.OrderItemID ||
		existing.ReturnProductID != cmd.ReturnProductID ||
		existing.ExchangeProductID != cmd.ExchangeProductID ||
		existing.Quantity != cmd.Quantity {
		s.logger.Warn("idempotency key reused for a different exchange request",
			zap.String("idempotencyKey", cmd.IdempotencyKey),
			zap.String("customerId", cmd.CustomerID),
			zap.String("orderItemId", cmd.OrderItemID))
		return nil, apperrors.New(apperrors.ErrCodeDuplicateRequest,
			"idempotency key was already used for a different exchange request")
	}
	s.logger.Info("exchange already exists with idempotency key",
		zap.String("idempotencyKey", cmd.IdempotencyKey),
		zap.String("exchangeId", existing.ID))
	return existing, nil
}

func validateCreate(cmd CreateExchangeCommand) error {
	switch {
	case cmd.ActorID == "":
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "actor id is required")
	case cmd.OrderID == "", cmd.OrderItemID == "", cmd.CustomerID == "":
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "order, order item and customer are required")
	case cmd.ReturnProductID == "", cmd.ExchangeProductID == "":
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "return and exchange products are required")
	case cmd.Quantity < 1:
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "quantity must be positive")
	}
	return nil
}

// ApproveExchange pending → approved → (회수 예약) → return_shipped.
// 회수 예약이 실패하면 approved 로 남고, 같은 호출을 다시 하면 회수 예약만 재시도한다.
func (s *exchangeService) ApproveExchange(ctx context.Context, cmd DecisionCommand) (*domain.Exchange, error) {
	if cmd.ActorID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "actor id is required")
	}

	ex, err := s.loadExchange(ctx, cmd.ExchangeID)
	if err != nil {
		return nil, err
	}

	switch {
	case ex.Status == domain.ExchangeStatusPending:
		var notes *string
		if cmd.Notes != "" {
			notes = &cmd.Notes
		}
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			ok, err := s.exchanges.CompareAndSetStatus(ctx, ex.ID, domain.ExchangeStatusPending, domain.ExchangeStatusApproved, notes)
			if err != nil {
				return err
			}
			if !ok {
				return errNoLongerPending
			}
			if err := s.recordTransition(ctx, ex.ID, domain.ExchangeStatusPending, domain.ExchangeStatusApproved, cmd.ActorID, cmd.Notes); err != nil {
				return err
			}
			return s.enqueue(ctx, ex.ID, events.ExchangeApprovedEvent{
				BaseEvent:      s.baseEvent(events.EventExchangeApproved, ex.ID, cmd.ActorID),
				ExchangeID:     ex.ID,
				ExchangeNumber: ex.ExchangeNumber,
				AdminNotes:     cmd.Notes,
			})
		})
		if err != nil {
			return nil, repoErr(err, "failed to approve exchange")
		}
		ex.Status = domain.ExchangeStatusApproved
		if notes != nil {
			ex.AdminNotes = *notes
		}
		s.logger.Info("exchange approved",
			zap.String("exchangeId", ex.ID),
			zap.String("actorId", cmd.ActorID))

	case ex.NeedsPickup():
		s.logger.Info("retrying pickup for approved exchange",
			zap.String("exchangeId", ex.ID),
			zap.String("actorId", cmd.ActorID))

	default:
		if _, err := domain.NextStatus(ex.Status, domain.ActionApprove); err != nil {
			return nil, err
		}
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidStateTransition, "cannot approve exchange in status %s", ex.Status)
	}

	return s.schedulePickup(ctx, ex, cmd.ActorID)
}

func (s *exchangeService) schedulePickup(ctx context.Context, ex *domain.Exchange, actorID string) (*domain.Exchange, error) {
	scheduledAt, err := s.callPickup(ctx, ex)
	if err != nil {
		s.logger.Warn("pickup scheduling failed; exchange stays approved",
			zap.String("exchangeId", ex.ID),
			zap.Error(err))
		return nil, apperrors.Wrap(apperrors.ErrCodeExternalCapabilityFailure,
			"pickup scheduling failed; retry approval to reschedule", err)
	}

	var won, late bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.exchanges.MarkPickupScheduled(ctx, ex.ID, scheduledAt)
		if err != nil {
			return err
		}
		if !ok {
			// 회수 예약 도중 교환 주문이 먼저 연결된 경우. 상태는 두고 예약 시각만 남긴다
			late, err = s.exchanges.RecordPickup(ctx, ex.ID, scheduledAt)
			if err != nil || !late {
				return err
			}
			return s.enqueuePickupScheduled(ctx, ex, scheduledAt, actorID)
		}
		won = true
		if err := s.recordTransition(ctx, ex.ID, domain.ExchangeStatusApproved, domain.ExchangeStatusReturnShipped, actorID, "pickup scheduled"); err != nil {
			return err
		}
		return s.enqueuePickupScheduled(ctx, ex, scheduledAt, actorID)
	})
	if err != nil {
		return nil, repoErr(err, "failed to record pickup")
	}

	switch {
	case won:
		s.logger.Info("exchange return shipped",
			zap.String("exchangeId", ex.ID),
			zap.Time("pickupScheduled", scheduledAt))
	case late:
		s.logger.Info("pickup recorded after exchange order was created",
			zap.String("exchangeId", ex.ID),
			zap.Time("pickupScheduled", scheduledAt))
	default:
		s.logger.Info("pickup already recorded by concurrent approval", zap.String("exchangeId", ex.ID))
	}

	return s.loadExchange(ctx, ex.ID)
}

// callPickup 원주문 배송지로 회수 예약. 일시적 실패만 재시도
func (s *exchangeService) callPickup(ctx context.Context, ex *domain.Exchange) (time.Time, error) {
	order, err := s.orders.FindByID(ctx, ex.OrderID)
	if err != nil {
		return time.Time{}, repoErr(err, "failed to load order for pickup")
	}

	req := pickup.Request{
		ExchangeID:     ex.ID,
		ExchangeNumber: ex.ExchangeNumber,
		OrderID:        ex.OrderID,
		OrderItemID:    ex.OrderItemID,
		ProductID:      ex.ReturnProductID,
		Quantity:       ex.Quantity,
		RecipientName:  order.Shipping.RecipientName,
		Phone:          order.Shipping.Phone,
		Address:        order.Shipping.Address,
		AddressDetail:  order.Shipping.AddressDetail,
		PostalCode:     order.Shipping.PostalCode,
	}

	retryCfg := s.opts.PickupRetry
	if retryCfg.ShouldRetry == nil {
		retryCfg.ShouldRetry = pickup.IsTransient
	}
	return retry.DoWithResult(ctx, retryCfg, s.logger, func() (time.Time, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.PickupTimeout)
		defer cancel()
		return s.pickup.SchedulePickup(callCtx, req)
	})
}

func (s *exchangeService) enqueuePickupScheduled(ctx context.Context, ex *domain.Exchange, scheduledAt time.Time, actorID string) error {
	return s.enqueue(ctx, ex.ID, events.ExchangePickupScheduledEvent{
		BaseEvent:      s.baseEvent(events.EventExchangePickupScheduled, ex.ID, actorID),
		ExchangeID:     ex.ID,
		ExchangeNumber: ex.ExchangeNumber,
		OrderID:        ex.OrderID,
		ScheduledAt:    scheduledAt,
	})
}

// RejectExchange pending → rejected (종료)
func (s *exchangeService) RejectExchange(ctx context.Context, cmd DecisionCommand) (*domain.Exchange, error) {
	if cmd.ActorID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "actor id is required")
	}
	if cmd.Notes == "" && s.opts.RequireRejectNotes {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "rejection notes are required")
	}

	ex, err := s.loadExchange(ctx, cmd.ExchangeID)
	if err != nil {
		return nil, err
	}
	if _, err := domain.NextStatus(ex.Status, domain.ActionReject); err != nil {
		return nil, err
	}
	if cmd.Notes == "" {
		s.logger.Warn("exchange rejected without notes",
			zap.String("exchangeId", ex.ID),
			zap.String("actorId", cmd.ActorID))
	}

	notes := cmd.Notes
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.exchanges.CompareAndSetStatus(ctx, ex.ID, domain.ExchangeStatusPending, domain.ExchangeStatusRejected, &notes)
		if err != nil {
			return err
		}
		if !ok {
			return errNoLongerPending
		}
		if err := s.recordTransition(ctx, ex.ID, domain.ExchangeStatusPending, domain.ExchangeStatusRejected, cmd.ActorID, notes); err != nil {
			return err
		}
		return s.enqueue(ctx, ex.ID, events.ExchangeRejectedEvent{
			BaseEvent:      s.baseEvent(events.EventExchangeRejected, ex.ID, cmd.ActorID),
			ExchangeID:     ex.ID,
			ExchangeNumber: ex.ExchangeNumber,
			AdminNotes:     notes,
		})
	})
	if err != nil {
		return nil, repoErr(err, "failed to reject exchange")
	}

	s.logger.Info("exchange rejected",
		zap.String("exchangeId", ex.ID),
		zap.String("actorId", cmd.ActorID))

	return s.loadExchange(ctx, ex.ID)
}

var errNoLongerPending = apperrors.New(apperrors.ErrCodeInvalidStateTransition, "exchange is no longer pending")

func (s *exchangeService) loadExchange(ctx context.Context, id string) (*domain.Exchange, error) {
	if id == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "exchange id is required")
	}
	ex, err := s.exchanges.FindByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "exchange not found")
	}
	return ex, nil
}

func (s *exchangeService) recordTransition(ctx context.Context, exchangeID string, from, to domain.ExchangeStatus, actorID, note string) error {
	return s.exchanges.AppendTransition(ctx, &domain.ExchangeTransition{
		ID:         uuid.NewString(),
		ExchangeID: exchangeID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actorID,
		Note:       note,
		CreatedAt:  s.now(),
	})
}

func (s *exchangeService) baseEvent(t events.EventType, exchangeID, actorID string) events.BaseEvent {
	return events.BaseEvent{
		EventID:       uuid.NewString(),
		EventType:     t,
		SchemaVersion: 1,
		OccurredAt:    s.now(),
		CorrelationID: exchangeID,
		ActorID:       actorID,
	}
}

// enqueue ctx 의 트랜잭션에 Outbox 이벤트 기록. 토픽은 이벤트 타입
func (s *exchangeService) enqueue(ctx context.Context, exchangeID string, event typedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeSerializationError, "failed to marshal event", err)
	}

	return s.outbox.Insert(ctx, &repository.OutboxEvent{
		ID:            uuid.NewString(),
		AggregateType: "exchange",
		AggregateID:   exchangeID,
		EventType:     string(event.Type()),
		Payload:       payload,
		Status:        repository.OutboxStatusPending,
		CreatedAt:     s.now(),
	})
}

type typedEvent interface {
	Type() events.EventType
}

// repoErr 레포지토리 에러를 도메인 에러로 변환. 이미 도메인 에러면 그대로
func repoErr(err error, msg string) error {
	var domainErr *apperrors.DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.Wrap(apperrors.ErrCodeNotFound, msg, err)
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.Wrap(apperrors.ErrCodeDuplicateRequest, msg, err)
	case errors.Is(err, repository.ErrInsufficientStock):
		return apperrors.Wrap(apperrors.ErrCodeOutOfStock, msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.ErrCodeTimeoutError, msg, err)
	}
	return apperrors.Wrap(apperrors.ErrCodeDatabaseError, msg, err)
}
