package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
)

var (
	// ErrNotFound 조회 대상 없음
	ErrNotFound = errors.New("not found")
	// ErrDuplicate 유니크 제약 위반
	ErrDuplicate = errors.New("duplicate")
	// ErrInsufficientStock 재고 부족
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Transactor 트랜잭션 경계. fn 안에서 ctx 를 넘긴 레포지토리 호출은 같은 트랜잭션을 사용한다.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository 주문 저장소
type OrderRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	FindItemByID(ctx context.Context, id string) (*domain.OrderItem, error)
	FindItemsByOrderID(ctx context.Context, orderID string) ([]*domain.OrderItem, error)
	// Create 교환 주문 초안의 금액이 0이 아니면 CONSTRAINT_VIOLATION
	Create(ctx context.Context, order *domain.Order) error
	CreateItem(ctx context.Context, item *domain.OrderItem) error
	UpdateLineage(ctx context.Context, orderID string, lineage domain.Lineage) (*domain.Order, error)
	// MarkExchanged 이미 true 여도 에러 없음
	MarkExchanged(ctx context.Context, orderID string) (*domain.Order, error)
	// FindChain 루트와 그 루트를 가리키는 주문들을 레벨 순으로
	FindChain(ctx context.Context, rootID string) ([]*domain.Order, error)
}

// ProductRepository 상품 카탈로그
type ProductRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Product, error)
	DecrementStock(ctx context.Context, id string, quantity int) error
}

// ExchangeFilter 교환 목록 조회 조건
type ExchangeFilter struct {
	Status     domain.ExchangeStatus
	CustomerID string
	OrderID    string
	Limit      int
	Offset     int
}

// ExchangeRepository 교환 저장소
type ExchangeRepository interface {
	Create(ctx context.Context, ex *domain.Exchange) error
	FindByID(ctx context.Context, id string) (*domain.Exchange, error)
	// FindByIdempotencyKey (고객, 멱등 키) 로 조회. 다른 고객의 같은 키는 보이지 않음
	FindByIdempotencyKey(ctx context.Context, customerID, key string) (*domain.Exchange, error)
	// FindByExchangeOrderID 주어진 교환 주문을 만들어낸 교환
	FindByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*domain.Exchange, error)
	HasOpenForItem(ctx context.Context, orderItemID string) (bool, error)
	List(ctx context.Context, filter ExchangeFilter) ([]*domain.Exchange, error)

	// CompareAndSetStatus status = from 일 때만 to 로 변경. 변경 여부 반환
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.ExchangeStatus, adminNotes *string) (bool, error)
	// MarkPickupScheduled approved 이고 회수 예약 전일 때만 return_shipped 로 변경
	MarkPickupScheduled(ctx context.Context, id string, scheduledAt time.Time) (bool, error)
	// RecordPickup exchange_shipped 이고 회수 예약 전일 때 예약 시각만 기록 (상태 변경 없음)
	RecordPickup(ctx context.Context, id string, scheduledAt time.Time) (bool, error)
	// LinkExchangeOrder exchange_order_id IS NULL 조건부 연결 + exchange_shipped.
	// 성공하면 연결 직전의 상태를 함께 반환
	LinkExchangeOrder(ctx context.Context, id, exchangeOrderID string) (domain.ExchangeStatus, bool, error)

	AppendTransition(ctx context.Context, t *domain.ExchangeTransition) error
	FindTransitions(ctx context.Context, exchangeID string) ([]*domain.ExchangeTransition, error)

	// FindNeedingReconciliation 연결은 되었지만 후속 기록이나 회수 예약이 빠진 교환
	FindNeedingReconciliation(ctx context.Context, limit int) ([]*domain.Exchange, error)
}

// LedgerRepository 교환 원장. 추가/조회만 존재
type LedgerRepository interface {
	Append(ctx context.Context, entry *domain.LedgerEntry) error
	FindByExchangeID(ctx context.Context, exchangeID string) ([]*domain.LedgerEntry, error)
	FindByOriginalOrderID(ctx context.Context, orderID string) ([]*domain.LedgerEntry, error)
	FindByRootOrderID(ctx context.Context, rootOrderID string) ([]*domain.LedgerEntry, error)
	FindByCustomerID(ctx context.Context, customerID string) ([]*domain.LedgerEntry, error)
}

// OutboxStatus Outbox 이벤트 상태
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusSent    OutboxStatus = "SENT"
)

// OutboxEvent Outbox 이벤트
type OutboxEvent struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	Status        OutboxStatus
	CreatedAt     time.Time
	SentAt        *time.Time
}

// OutboxRepository Outbox 레포지토리 인터페이스
type OutboxRepository interface {
	Insert(ctx context.Context, event *OutboxEvent) error
	FindPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkSent(ctx context.Context, id string) error
}
