package events

import "time"

// EventType 이벤트 타입 정의
type EventType string

const (
	// Exchange Events
	EventExchangeCreated                EventType = "exchange.created.v1"
	EventExchangeApproved               EventType = "exchange.approved.v1"
	EventExchangePickupScheduled        EventType = "exchange.pickup_scheduled.v1"
	EventExchangeRejected               EventType = "exchange.rejected.v1"
	EventExchangeOrderCreated           EventType = "exchange.order_created.v1"
	EventExchangeReconciliationRequired EventType = "exchange.reconciliation_required.v1"
)

// BaseEvent 모든 이벤트의 기본 구조
type BaseEvent struct {
	EventID       string    `json:"eventId"`
	EventType     EventType `json:"eventType"`
	SchemaVersion int       `json:"schemaVersion"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID string    `json:"correlationId"` // 교환 ID로 사용
	ActorID       string    `json:"actorId,omitempty"`
}

// Type 이벤트 타입. Outbox 토픽으로 사용
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// ExchangeCreatedEvent 교환 요청 생성 이벤트
type ExchangeCreatedEvent struct {
	BaseEvent
	ExchangeID        string `json:"exchangeId"`
	ExchangeNumber    string `json:"exchangeNumber"`
	OrderID           string `json:"orderId"`
	OrderItemID       string `json:"orderItemId"`
	CustomerID        string `json:"customerId"`
	ReturnProductID   string `json:"returnProductId"`
	ExchangeProductID string `json:"exchangeProductId"`
	Quantity          int    `json:"quantity"`
}

// ExchangeApprovedEvent 교환 승인 이벤트
type ExchangeApprovedEvent struct {
	BaseEvent
	ExchangeID     string `json:"exchangeId"`
	ExchangeNumber string `json:"exchangeNumber"`
	AdminNotes     string `json:"adminNotes,omitempty"`
}

// ExchangePickupScheduledEvent 회수 예약 완료 이벤트
type ExchangePickupScheduledEvent struct {
	BaseEvent
	ExchangeID     string    `json:"exchangeId"`
	ExchangeNumber string    `json:"exchangeNumber"`
	OrderID        string    `json:"orderId"`
	ScheduledAt    time.Time `json:"scheduledAt"`
}

// ExchangeRejectedEvent 교환 거절 이벤트
type ExchangeRejectedEvent struct {
	BaseEvent
	ExchangeID     string `json:"exchangeId"`
	ExchangeNumber string `json:"exchangeNumber"`
	AdminNotes     string `json:"adminNotes,omitempty"`
}

// ExchangeOrderCreatedEvent 교환 주문 생성 이벤트
type ExchangeOrderCreatedEvent struct {
	BaseEvent
	ExchangeID          string `json:"exchangeId"`
	ExchangeNumber      string `json:"exchangeNumber"`
	OriginalOrderID     string `json:"originalOrderId"`
	ExchangeOrderID     string `json:"exchangeOrderId"`
	ExchangeOrderNumber string `json:"exchangeOrderNumber"`
	CustomerID          string `json:"customerId"`
	ExchangeProductID   string `json:"exchangeProductId"`
	Quantity            int    `json:"quantity"`
}

// ReconciliationRequiredEvent 후속 기록 단계 실패로 보정이 필요한 교환
type ReconciliationRequiredEvent struct {
	BaseEvent
	ExchangeID      string   `json:"exchangeId"`
	ExchangeOrderID string   `json:"exchangeOrderId"`
	FailedSteps     []string `json:"failedSteps"`
}
