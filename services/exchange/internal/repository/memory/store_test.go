package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/kyungseok/msa-exchange-go/common/errors"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.PutOrder(&domain.Order{ID: "A", OrderNumber: "ORD-A", CustomerID: "c1", PaymentMethod: "card"},
		&domain.OrderItem{ID: "A-1", OrderID: "A", ProductID: "P1", Quantity: 2})
	s.PutProduct(&domain.Product{ID: "P2", Name: "Blue", Price: 1000, Stock: 3})
	return s
}

func newExchange(id, itemID string, status domain.ExchangeStatus) *domain.Exchange {
	return &domain.Exchange{
		ID: id, ExchangeNumber: "EXC-" + id, OrderID: "A", OrderItemID: itemID,
		CustomerID: "c1", Quantity: 1, Status: status, CreatedAt: time.Now(),
	}
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Exchanges().Create(ctx, newExchange("e1", "A-1", domain.ExchangeStatusPending)))
		require.NoError(t, s.Products().DecrementStock(ctx, "P2", 2))
		require.NoError(t, s.Outbox().Insert(ctx, &repository.OutboxEvent{ID: "o1", Status: repository.OutboxStatusPending}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Exchanges().FindByID(ctx, "e1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	p, err := s.Products().FindByID(ctx, "P2")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)

	pending, err := s.Outbox().FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestExchange_CreateRejectsSecondOpenExchangeForItem(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	require.NoError(t, s.Exchanges().Create(ctx, newExchange("e1", "A-1", domain.ExchangeStatusPending)))
	err := s.Exchanges().Create(ctx, newExchange("e2", "A-1", domain.ExchangeStatusPending))
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	ok, err := s.Exchanges().CompareAndSetStatus(ctx, "e1", domain.ExchangeStatusPending, domain.ExchangeStatusRejected, nil)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, s.Exchanges().Create(ctx, newExchange("e3", "A-1", domain.ExchangeStatusPending)))
}

func TestExchange_CompareAndSetStatusSingleWinner(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	require.NoError(t, s.Exchanges().Create(ctx, newExchange("e1", "A-1", domain.ExchangeStatusPending)))

	notes := "ok"
	ok, err := s.Exchanges().CompareAndSetStatus(ctx, "e1", domain.ExchangeStatusPending, domain.ExchangeStatusApproved, &notes)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exchanges().CompareAndSetStatus(ctx, "e1", domain.ExchangeStatusPending, domain.ExchangeStatusRejected, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ex, err := s.Exchanges().FindByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusApproved, ex.Status)
	assert.Equal(t, "ok", ex.AdminNotes)
}

func TestExchange_LinkExchangeOrderIsWriteOnce(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	require.NoError(t, s.Exchanges().Create(ctx, newExchange("e1", "A-1", domain.ExchangeStatusReturnShipped)))

	prev, ok, err := s.Exchanges().LinkExchangeOrder(ctx, "e1", "B")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.ExchangeStatusReturnShipped, prev)

	_, ok, err = s.Exchanges().LinkExchangeOrder(ctx, "e1", "B2")
	require.NoError(t, err)
	assert.False(t, ok)

	ex, err := s.Exchanges().FindByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "B", *ex.ExchangeOrderID)
	assert.Equal(t, domain.ExchangeStatusExchangeShipped, ex.Status)
	assert.NoError(t, ex.CheckLinkInvariant())
}

func TestExchange_LinkRequiresAwaitingStatus(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	require.NoError(t, s.Exchanges().Create(ctx, newExchange("e1", "A-1", domain.ExchangeStatusPending)))

	_, ok, err := s.Exchanges().LinkExchangeOrder(ctx, "e1", "B")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrders_CreateRejectsNonZeroExchangeDraft(t *testing.T) {
	s := seed(t)
	err := s.Orders().Create(context.Background(), &domain.Order{
		ID: "B", OrderNumber: "EXO-1", PaymentMethod: domain.PaymentMethodExchange, Subtotal: 10,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConstraintViolation))
}

func TestOrders_MarkExchangedIsIdempotent(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	first, err := s.Orders().MarkExchanged(ctx, "A")
	require.NoError(t, err)
	second, err := s.Orders().MarkExchanged(ctx, "A")
	require.NoError(t, err)

	assert.True(t, second.HasBeenExchanged)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	_, err = s.Orders().MarkExchanged(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProducts_DecrementStock(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	require.NoError(t, s.Products().DecrementStock(ctx, "P2", 3))
	assert.ErrorIs(t, s.Products().DecrementStock(ctx, "P2", 1), repository.ErrInsufficientStock)
	assert.ErrorIs(t, s.Products().DecrementStock(ctx, "P9", 1), repository.ErrNotFound)
}

func TestLedger_AppendRejectsDuplicate(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	entry := &domain.LedgerEntry{ID: "l1", ExchangeID: "e1", ExchangeOrderID: "B", RootOrderID: "A", CustomerID: "c1"}

	require.NoError(t, s.Ledger().Append(ctx, entry))
	dup := *entry
	dup.ID = "l2"
	assert.ErrorIs(t, s.Ledger().Append(ctx, &dup), repository.ErrDuplicate)

	byRoot, err := s.Ledger().FindByRootOrderID(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, byRoot, 1)
}

func TestFindNeedingReconciliation(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	require.NoError(t, s.Exchanges().Create(ctx, newExchange("e1", "A-1", domain.ExchangeStatusApproved)))
	require.NoError(t, s.Orders().Create(ctx, &domain.Order{ID: "B", OrderNumber: "EXO-1", PaymentMethod: domain.PaymentMethodExchange}))
	_, _, err := s.Exchanges().LinkExchangeOrder(ctx, "e1", "B")
	require.NoError(t, err)

	list, err := s.Exchanges().FindNeedingReconciliation(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.Orders().MarkExchanged(ctx, "A")
	require.NoError(t, err)
	_, err = s.Orders().UpdateLineage(ctx, "B", domain.Lineage{RootOrderID: "A", Level: 1})
	require.NoError(t, err)
	require.NoError(t, s.Ledger().Append(ctx, &domain.LedgerEntry{ID: "l1", ExchangeID: "e1", ExchangeOrderID: "B"}))

	// 승인 상태에서 바로 연결되어 회수 예약이 아직 없음
	list, err = s.Exchanges().FindNeedingReconciliation(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	ok, err := s.Exchanges().RecordPickup(ctx, "e1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exchanges().RecordPickup(ctx, "e1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	list, err = s.Exchanges().FindNeedingReconciliation(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFindChain_OrdersByLevel(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	two, one := 2, 1
	root := "A"
	s.PutOrder(&domain.Order{ID: "C", OrderNumber: "EXO-2", OriginalOrderID: &root, ExchangeChainLevel: &two})
	s.PutOrder(&domain.Order{ID: "B", OrderNumber: "EXO-1", OriginalOrderID: &root, ExchangeChainLevel: &one})

	chain, err := s.Orders().FindChain(ctx, "A")
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{chain[0].ID, chain[1].ID, chain[2].ID})
}

func TestLoadFixtures(t *testing.T) {
	s := NewStore()
	body := `{
		"orders": [{"id": "A", "orderNumber": "ORD-1", "customerId": "c1", "paymentMethod": "card"}],
		"items": [{"id": "A-1", "orderId": "A", "productId": "P1", "quantity": 1}],
		"products": [{"id": "P1", "name": "Shirt", "price": 1000, "stock": 5}]
	}`
	require.NoError(t, s.LoadFixtures(strings.NewReader(body)))

	ctx := context.Background()
	_, err := s.Orders().FindByID(ctx, "A")
	assert.NoError(t, err)
	_, err = s.Orders().FindItemByID(ctx, "A-1")
	assert.NoError(t, err)
	p, err := s.Products().FindByID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
}
