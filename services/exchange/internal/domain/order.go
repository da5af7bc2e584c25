package domain

import (
	"time"

	apperrors "github.com/kyungseok/msa-exchange-go/common/errors"
)

// OrderStatus 주문 비즈니스 상태
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// ShippingStatus 배송사 기준 상태
type ShippingStatus string

const (
	ShippingStatusPending        ShippingStatus = "pending"
	ShippingStatusShipped        ShippingStatus = "shipped"
	ShippingStatusOutForDelivery ShippingStatus = "out_for_delivery"
	ShippingStatusDelivered      ShippingStatus = "delivered"
)

// PaymentStatus 결제 상태
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethodExchange 교환 주문 결제수단 태그
const PaymentMethodExchange = "exchange"

// Shipping 배송지 스냅샷
type Shipping struct {
	RecipientName string `json:"recipientName"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	AddressDetail string `json:"addressDetail,omitempty"`
	PostalCode    string `json:"postalCode"`
}

// Order 주문 도메인 모델
//
// 금액은 최소 통화 단위(int64). 교환 체인은 OriginalOrderID(루트) + ExchangeChainLevel(깊이) 쌍으로 표현한다.
type Order struct {
	ID             string         `json:"id"`
	OrderNumber    string         `json:"orderNumber"`
	CustomerID     string         `json:"customerId"`
	Shipping       Shipping       `json:"shipping"`
	Subtotal       int64          `json:"subtotal"`
	DiscountAmount int64          `json:"discountAmount"`
	FinalAmount    int64          `json:"finalAmount"`
	PaymentMethod  string         `json:"paymentMethod"`
	PaymentStatus  PaymentStatus  `json:"paymentStatus"`
	OrderStatus    OrderStatus    `json:"orderStatus"`
	ShippingStatus ShippingStatus `json:"shippingStatus"`

	OriginalOrderID    *string `json:"originalOrderId,omitempty"`
	ExchangeChainLevel *int    `json:"exchangeChainLevel,omitempty"`
	HasBeenExchanged   bool    `json:"hasBeenExchanged"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OrderItem 주문 항목
type OrderItem struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	Quantity    int       `json:"quantity"`
	UnitPrice   int64     `json:"unitPrice"`
	Subtotal    int64     `json:"subtotal"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Product 카탈로그 상품 (교환 주문 가격/재고 조회용)
type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Stock int    `json:"stock"`
}

// Lineage 체인 내 위치
type Lineage struct {
	RootOrderID string
	Level       int
}

// ChainLevel null 레벨은 루트(0)로 본다
func (o *Order) ChainLevel() int {
	if o.ExchangeChainLevel == nil {
		return 0
	}
	return *o.ExchangeChainLevel
}

// RootID 체인의 루트 주문 ID
func (o *Order) RootID() string {
	if o.OriginalOrderID != nil && *o.OriginalOrderID != "" {
		return *o.OriginalOrderID
	}
	return o.ID
}

// IsExchangeOrder 교환으로 생성된 주문인지
func (o *Order) IsExchangeOrder() bool {
	return o.PaymentMethod == PaymentMethodExchange
}

// HasLineage 교환 주문의 체인 필드가 채워졌는지
func (o *Order) HasLineage() bool {
	return o.OriginalOrderID != nil && o.ExchangeChainLevel != nil
}

// ValidateDraft 교환 주문 초안의 금액은 모두 0이어야 함
func (o *Order) ValidateDraft() error {
	if !o.IsExchangeOrder() {
		return nil
	}
	if o.Subtotal != 0 || o.DiscountAmount != 0 || o.FinalAmount != 0 {
		return apperrors.Newf(apperrors.ErrCodeConstraintViolation,
			"exchange order %s must have zero monetary fields", o.OrderNumber)
	}
	return nil
}

// NextLineage origin 을 교환해 만들어지는 주문의 체인 위치
func NextLineage(origin *Order) Lineage {
	return Lineage{
		RootOrderID: origin.RootID(),
		Level:       origin.ChainLevel() + 1,
	}
}

// NewExchangeOrderDraft origin 의 고객/배송지를 복사한 0원 교환 주문 초안
func NewExchangeOrderDraft(origin *Order, id, orderNumber string, now time.Time) *Order {
	return &Order{
		ID:             id,
		OrderNumber:    orderNumber,
		CustomerID:     origin.CustomerID,
		Shipping:       origin.Shipping,
		PaymentMethod:  PaymentMethodExchange,
		PaymentStatus:  PaymentStatusPaid,
		OrderStatus:    OrderStatusConfirmed,
		ShippingStatus: ShippingStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewExchangeOrderItem 교환 상품 항목. 단가는 현재가, 소계는 0
func NewExchangeOrderItem(id, orderID string, product *Product, quantity int, now time.Time) *OrderItem {
	return &OrderItem{
		ID:          id,
		OrderID:     orderID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    quantity,
		UnitPrice:   product.Price,
		Subtotal:    0,
		CreatedAt:   now,
	}
}
