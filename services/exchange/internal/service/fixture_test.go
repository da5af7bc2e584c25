package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kyungseok/msa-exchange-go/common/retry"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/pickup"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository/memory"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pickupTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) SchedulePickup(ctx context.Context, req pickup.Request) (time.Time, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(time.Time), args.Error(1)
}

type seqIDs struct {
	n atomic.Int64
}

func (g *seqIDs) ExchangeNumber() (string, error) {
	return fmt.Sprintf("EXC-%d", g.n.Add(1)), nil
}

func (g *seqIDs) OrderNumber() (string, error) {
	return fmt.Sprintf("EXO-%d", g.n.Add(1)), nil
}

var errStoreDown = errors.New("store unavailable")

// flakyOrders 후속 기록 단계 실패 주입
type flakyOrders struct {
	repository.OrderRepository
	failMark    atomic.Bool
	failLineage atomic.Bool
}

func (f *flakyOrders) MarkExchanged(ctx context.Context, id string) (*domain.Order, error) {
	if f.failMark.Load() {
		return nil, errStoreDown
	}
	return f.OrderRepository.MarkExchanged(ctx, id)
}

func (f *flakyOrders) UpdateLineage(ctx context.Context, id string, l domain.Lineage) (*domain.Order, error) {
	if f.failLineage.Load() {
		return nil, errStoreDown
	}
	return f.OrderRepository.UpdateLineage(ctx, id, l)
}

type flakyLedger struct {
	repository.LedgerRepository
	failAppend atomic.Bool
}

func (f *flakyLedger) Append(ctx context.Context, e *domain.LedgerEntry) error {
	if f.failAppend.Load() {
		return errStoreDown
	}
	return f.LedgerRepository.Append(ctx, e)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	orders *flakyOrders
	ledger *flakyLedger
	pickup *mockScheduler
	opts   Options
	svc    ExchangeService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutOrder(&domain.Order{
		ID:             "order-a",
		OrderNumber:    "ORD-1001",
		CustomerID:     "cust-1",
		Shipping:       domain.Shipping{RecipientName: "Lee", Phone: "010-0000-0000", Address: "Seoul", PostalCode: "04524"},
		Subtotal:       60000,
		FinalAmount:    60000,
		PaymentMethod:  "card",
		PaymentStatus:  domain.PaymentStatusPaid,
		OrderStatus:    domain.OrderStatusDelivered,
		ShippingStatus: domain.ShippingStatusDelivered,
		CreatedAt:      time.Now().Add(-48 * time.Hour),
	},
		&domain.OrderItem{ID: "item-a1", OrderID: "order-a", ProductID: "P1", ProductName: "Red Shirt", Quantity: 2, UnitPrice: 30000, Subtotal: 60000},
		&domain.OrderItem{ID: "item-a2", OrderID: "order-a", ProductID: "P3", ProductName: "Socks", Quantity: 1, UnitPrice: 5000, Subtotal: 5000},
	)
	store.PutOrder(&domain.Order{ID: "order-x", OrderNumber: "ORD-2001", CustomerID: "cust-2", PaymentMethod: "card"},
		&domain.OrderItem{ID: "item-x1", OrderID: "order-x", ProductID: "P1", Quantity: 1})
	store.PutProduct(&domain.Product{ID: "P1", Name: "Red Shirt", Price: 30000, Stock: 10})
	store.PutProduct(&domain.Product{ID: "P2", Name: "Blue Shirt", Price: 32000, Stock: 10})
	store.PutProduct(&domain.Product{ID: "P3", Name: "Green Shirt", Price: 31000, Stock: 10})

	opts := DefaultOptions()
	opts.PickupTimeout = 200 * time.Millisecond
	opts.PickupRetry = retry.Config{
		MaxAttempts:        2,
		InitialInterval:    time.Millisecond,
		MaxInterval:        2 * time.Millisecond,
		BackoffCoefficient: 2,
		MaxElapsedTime:     time.Second,
	}

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		orders: &flakyOrders{OrderRepository: store.Orders()},
		ledger: &flakyLedger{LedgerRepository: store.Ledger()},
		pickup: &mockScheduler{},
		opts:   opts,
	}
	f.build()
	return f
}

func (f *fixture) build() {
	f.svc = NewExchangeService(f.deps())
}

func (f *fixture) deps() Deps {
	return Deps{
		Tx:        f.store,
		Orders:    f.orders,
		Products:  f.store.Products(),
		Exchanges: f.store.Exchanges(),
		Ledger:    f.ledger,
		Outbox:    f.store.Outbox(),
		Pickup:    f.pickup,
		IDs:       &seqIDs{},
		Logger:    zap.NewNop(),
		Options:   f.opts,
	}
}

func (f *fixture) pickupSucceeds() {
	f.pickup.On("SchedulePickup", mock.Anything, mock.Anything).Return(pickupTime, nil)
}

func (f *fixture) create(orderID, itemID, returnProduct, exchangeProduct string, qty int) *domain.Exchange {
	f.t.Helper()
	ex, err := f.svc.CreateExchange(f.ctx, CreateExchangeCommand{
		OrderID:           orderID,
		OrderItemID:       itemID,
		CustomerID:        "cust-1",
		ReturnProductID:   returnProduct,
		ExchangeProductID: exchangeProduct,
		Quantity:          qty,
		Reason:            "wrong size",
		ActorID:           "cust-1",
	})
	require.NoError(f.t, err)
	return ex
}

func (f *fixture) approve(id string) *domain.Exchange {
	f.t.Helper()
	ex, err := f.svc.ApproveExchange(f.ctx, DecisionCommand{ExchangeID: id, ActorID: "admin-1", Notes: "ok"})
	require.NoError(f.t, err)
	return ex
}

func (f *fixture) createOrder(id string) *CreateExchangeOrderResult {
	f.t.Helper()
	res, err := f.svc.CreateExchangeOrder(f.ctx, id, "admin-1")
	require.NoError(f.t, err)
	return res
}

// exchangeThrough 생성-승인-교환주문까지 한 번에
func (f *fixture) exchangeThrough(orderID, itemID, returnProduct, exchangeProduct string, qty int) *CreateExchangeOrderResult {
	f.t.Helper()
	ex := f.create(orderID, itemID, returnProduct, exchangeProduct, qty)
	f.approve(ex.ID)
	return f.createOrder(ex.ID)
}

func (f *fixture) outboxTypes() []string {
	f.t.Helper()
	pending, err := f.store.Outbox().FindPending(f.ctx, 0)
	require.NoError(f.t, err)
	types := make([]string, 0, len(pending))
	for _, e := range pending {
		types = append(types, e.EventType)
	}
	return types
}
