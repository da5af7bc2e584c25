package service

import (
	"context"

	apperrors "github.com/kyungseok/msa-exchange-go/common/errors"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ClampListLimit 목록 조회 limit. 0 이하는 기본값, 상한을 넘으면 상한
func ClampListLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

func (s *exchangeService) GetExchange(ctx context.Context, id string) (*domain.Exchange, error) {
	return s.loadExchange(ctx, id)
}

func (s *exchangeService) ListExchanges(ctx context.Context, filter repository.ExchangeFilter) ([]*domain.Exchange, error) {
	if filter.Status != "" {
		if _, ok := domain.ParseExchangeStatus(string(filter.Status)); !ok {
			return nil, apperrors.Newf(apperrors.ErrCodeInvalidRequest, "unknown status %q", filter.Status)
		}
	}
	filter.Limit = ClampListLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	list, err := s.exchanges.List(ctx, filter)
	if err != nil {
		return nil, repoErr(err, "failed to list exchanges")
	}
	return list, nil
}

func (s *exchangeService) ListTransitions(ctx context.Context, exchangeID string) ([]*domain.ExchangeTransition, error) {
	if _, err := s.loadExchange(ctx, exchangeID); err != nil {
		return nil, err
	}
	list, err := s.exchanges.FindTransitions(ctx, exchangeID)
	if err != nil {
		return nil, repoErr(err, "failed to list transitions")
	}
	return list, nil
}

// GetChainForOrder 체인 안의 어떤 주문을 주어도 루트부터 레벨 순 전체 체인을 반환
func (s *exchangeService) GetChainForOrder(ctx context.Context, orderID string) ([]*domain.Order, error) {
	if orderID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, repoErr(err, "order not found")
	}

	chain, err := s.orders.FindChain(ctx, order.RootID())
	if err != nil {
		return nil, repoErr(err, "failed to load order chain")
	}
	return chain, nil
}

func (s *exchangeService) ListLedger(ctx context.Context, q LedgerQuery) ([]*domain.LedgerEntry, error) {
	set := 0
	for _, v := range []string{q.ExchangeID, q.OriginalOrderID, q.RootOrderID, q.CustomerID} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest,
			"exactly one of exchange_id, original_order_id, root_order_id, customer_id is required")
	}

	var (
		entries []*domain.LedgerEntry
		err     error
	)
	switch {
	case q.ExchangeID != "":
		entries, err = s.ledger.FindByExchangeID(ctx, q.ExchangeID)
	case q.OriginalOrderID != "":
		entries, err = s.ledger.FindByOriginalOrderID(ctx, q.OriginalOrderID)
	case q.RootOrderID != "":
		entries, err = s.ledger.FindByRootOrderID(ctx, q.RootOrderID)
	default:
		entries, err = s.ledger.FindByCustomerID(ctx, q.CustomerID)
	}
	if err != nil {
		return nil, repoErr(err, "failed to read ledger")
	}
	return entries, nil
}
