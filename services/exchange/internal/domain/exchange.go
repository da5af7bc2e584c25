package domain

import (
	"time"

	apperrors "github.com/kyungseok/msa-exchange-go/common/errors"
)

// ExchangeStatus 교환 상태
type ExchangeStatus string

const (
	ExchangeStatusPending         ExchangeStatus = "pending"
	ExchangeStatusApproved        ExchangeStatus = "approved"
	ExchangeStatusReturnShipped   ExchangeStatus = "return_shipped"
	ExchangeStatusExchangeShipped ExchangeStatus = "exchange_shipped"
	ExchangeStatusRejected        ExchangeStatus = "rejected"
	// ExchangeStatusCompleted 어떤 전이도 진입하지 않음. 연결 불변식 표현용
	ExchangeStatusCompleted ExchangeStatus = "completed"
)

// AllExchangeStatuses 조회 필터 검증용
var AllExchangeStatuses = []ExchangeStatus{
	ExchangeStatusPending,
	ExchangeStatusApproved,
	ExchangeStatusReturnShipped,
	ExchangeStatusExchangeShipped,
	ExchangeStatusRejected,
	ExchangeStatusCompleted,
}

// ExchangeAction 운영자/시스템이 일으키는 전이
type ExchangeAction string

const (
	ActionApprove        ExchangeAction = "approve"
	ActionReject         ExchangeAction = "reject"
	ActionSchedulePickup ExchangeAction = "schedule_pickup"
	ActionCreateOrder    ExchangeAction = "create_exchange_order"
)

var allActions = []ExchangeAction{ActionApprove, ActionReject, ActionSchedulePickup, ActionCreateOrder}

// ParseExchangeStatus 문자열을 상태로 변환
func ParseExchangeStatus(s string) (ExchangeStatus, bool) {
	for _, st := range AllExchangeStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal 더 이상 전이가 없는 상태
func (s ExchangeStatus) IsTerminal() bool {
	switch s {
	case ExchangeStatusRejected, ExchangeStatusExchangeShipped, ExchangeStatusCompleted:
		return true
	}
	return false
}

// AwaitingExchangeOrder 교환 주문 생성 대기 상태
func (s ExchangeStatus) AwaitingExchangeOrder() bool {
	return s == ExchangeStatusApproved || s == ExchangeStatusReturnShipped
}

// RequiresExchangeOrder exchange_order_id 가 있어야 하는 상태
func (s ExchangeStatus) RequiresExchangeOrder() bool {
	return s == ExchangeStatusExchangeShipped || s == ExchangeStatusCompleted
}

// NextStatus 상태 전이 함수. 새 상태를 추가하면 이 switch 를 반드시 갱신해야 한다.
func NextStatus(from ExchangeStatus, action ExchangeAction) (ExchangeStatus, error) {
	switch from {
	case ExchangeStatusPending:
		switch action {
		case ActionApprove:
			return ExchangeStatusApproved, nil
		case ActionReject:
			return ExchangeStatusRejected, nil
		}
	case ExchangeStatusApproved:
		switch action {
		case ActionSchedulePickup:
			return ExchangeStatusReturnShipped, nil
		case ActionCreateOrder:
			return ExchangeStatusExchangeShipped, nil
		}
	case ExchangeStatusReturnShipped:
		if action == ActionCreateOrder {
			return ExchangeStatusExchangeShipped, nil
		}
	case ExchangeStatusExchangeShipped, ExchangeStatusRejected, ExchangeStatusCompleted:
	default:
		return "", apperrors.Newf(apperrors.ErrCodeInvalidStateTransition, "unknown exchange status %q", from)
	}
	return "", apperrors.Newf(apperrors.ErrCodeInvalidStateTransition,
		"cannot %s exchange in status %s", action, from)
}

// ValidActionsFrom 현재 상태에서 가능한 다음 전이 목록
func ValidActionsFrom(status ExchangeStatus) []ExchangeAction {
	var actions []ExchangeAction
	for _, a := range allActions {
		if _, err := NextStatus(status, a); err == nil {
			actions = append(actions, a)
		}
	}
	return actions
}

// Exchange 교환 요청
type Exchange struct {
	ID                string         `json:"id"`
	ExchangeNumber    string         `json:"exchangeNumber"`
	OrderID           string         `json:"orderId"`
	OrderItemID       string         `json:"orderItemId"`
	CustomerID        string         `json:"customerId"`
	ReturnProductID   string         `json:"returnProductId"`
	ExchangeProductID string         `json:"exchangeProductId"`
	Quantity          int            `json:"quantity"`
	Status            ExchangeStatus `json:"status"`
	// ExchangeOrderID 한 번 설정되면 바뀌지 않음
	ExchangeOrderID       *string    `json:"exchangeOrderId,omitempty"`
	Reason                string     `json:"reason"`
	Description           string     `json:"description,omitempty"`
	AdminNotes            string     `json:"adminNotes,omitempty"`
	IdempotencyKey        string     `json:"-"`
	ReturnPickupScheduled *time.Time `json:"returnPickupScheduled,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// IsLinked 교환 주문이 연결되었는지
func (e *Exchange) IsLinked() bool {
	return e.ExchangeOrderID != nil && *e.ExchangeOrderID != ""
}

// NeedsPickup 승인은 되었지만 회수 예약이 안 된 상태 (승인 재시도 대상)
func (e *Exchange) NeedsPickup() bool {
	return e.Status == ExchangeStatusApproved && e.ReturnPickupScheduled == nil
}

// MissingPickup 승인 상태에서 바로 교환 주문이 나가 회수 예약이 빠진 경우
func (e *Exchange) MissingPickup() bool {
	return e.Status == ExchangeStatusExchangeShipped && e.ReturnPickupScheduled == nil
}

// CheckLinkInvariant exchange_order_id 는 exchange_shipped/completed 일 때만 존재
func (e *Exchange) CheckLinkInvariant() error {
	if e.IsLinked() != e.Status.RequiresExchangeOrder() {
		return apperrors.Newf(apperrors.ErrCodeConstraintViolation,
			"exchange %s has status %s with linked=%t", e.ID, e.Status, e.IsLinked())
	}
	return nil
}

// ExchangeTransition 상태 변경 이력
type ExchangeTransition struct {
	ID         string         `json:"id"`
	ExchangeID string         `json:"exchangeId"`
	FromStatus ExchangeStatus `json:"fromStatus"`
	ToStatus   ExchangeStatus `json:"toStatus"`
	ActorID    string         `json:"actorId"`
	Note       string         `json:"note,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
