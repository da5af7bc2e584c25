package domain

import (
	"testing"
	"time"

	apperrors "github.com/kyungseok/msa-exchange-go/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestNextLineage(t *testing.T) {
	tests := []struct {
		name   string
		origin *Order
		want   Lineage
	}{
		{
			name:   "root with null level",
			origin: &Order{ID: "A"},
			want:   Lineage{RootOrderID: "A", Level: 1},
		},
		{
			name:   "root with explicit zero level",
			origin: &Order{ID: "A", ExchangeChainLevel: intPtr(0)},
			want:   Lineage{RootOrderID: "A", Level: 1},
		},
		{
			name:   "first replacement points at root",
			origin: &Order{ID: "B", OriginalOrderID: strPtr("A"), ExchangeChainLevel: intPtr(1)},
			want:   Lineage{RootOrderID: "A", Level: 2},
		},
		{
			name:   "deep chain",
			origin: &Order{ID: "D", OriginalOrderID: strPtr("A"), ExchangeChainLevel: intPtr(3)},
			want:   Lineage{RootOrderID: "A", Level: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextLineage(tt.origin))
		})
	}
}

func TestNewExchangeOrderDraft(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	origin := &Order{
		ID:          "A",
		CustomerID:  "cust-1",
		Shipping:    Shipping{RecipientName: "Kim", Address: "Seoul", PostalCode: "04524"},
		Subtotal:    50000,
		FinalAmount: 45000,
	}

	draft := NewExchangeOrderDraft(origin, "B", "EXO-1", now)

	assert.Equal(t, "cust-1", draft.CustomerID)
	assert.Equal(t, origin.Shipping, draft.Shipping)
	assert.Zero(t, draft.Subtotal)
	assert.Zero(t, draft.DiscountAmount)
	assert.Zero(t, draft.FinalAmount)
	assert.Equal(t, PaymentMethodExchange, draft.PaymentMethod)
	assert.Equal(t, PaymentStatusPaid, draft.PaymentStatus)
	assert.Equal(t, OrderStatusConfirmed, draft.OrderStatus)
	assert.Nil(t, draft.OriginalOrderID)
	require.NoError(t, draft.ValidateDraft())
}

func TestValidateDraft_RejectsPaidExchangeOrder(t *testing.T) {
	draft := &Order{OrderNumber: "EXO-2", PaymentMethod: PaymentMethodExchange, FinalAmount: 100}
	err := draft.ValidateDraft()
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConstraintViolation))

	paid := &Order{PaymentMethod: "card", FinalAmount: 100}
	assert.NoError(t, paid.ValidateDraft())
}

func TestNewExchangeOrderItem(t *testing.T) {
	p := &Product{ID: "P2", Name: "Blue Shirt", Price: 29000}
	item := NewExchangeOrderItem("i-1", "B", p, 2, time.Now())

	assert.Equal(t, "P2", item.ProductID)
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, int64(29000), item.UnitPrice)
	assert.Zero(t, item.Subtotal)
}

func TestNewLedgerEntry_RecordsPredecessorLevel(t *testing.T) {
	ex := &Exchange{ID: "E2", ExchangeNumber: "EXC-2", OrderID: "B", CustomerID: "c", Quantity: 1}
	entry := NewLedgerEntry("l-1", ex, "C", Lineage{RootOrderID: "A", Level: 2}, time.Now())

	assert.Equal(t, "B", entry.OriginalOrderID)
	assert.Equal(t, "A", entry.RootOrderID)
	assert.Equal(t, "C", entry.ExchangeOrderID)
	assert.Equal(t, 1, entry.ExchangeChainLevel)
	assert.Equal(t, ExchangeStatusExchangeShipped, entry.Status)
}
