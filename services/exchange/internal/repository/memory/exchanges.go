package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
)

type exchangeRepo struct {
	s *Store
}

func (r *exchangeRepo) Create(ctx context.Context, ex *domain.Exchange) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.exchanges[ex.ID]; ok {
		return fmt.Errorf("exchange %s: %w", ex.ID, repository.ErrDuplicate)
	}
	for _, existing := range r.s.exchanges {
		switch {
		case existing.ExchangeNumber == ex.ExchangeNumber,
			ex.IdempotencyKey != "" && existing.IdempotencyKey == ex.IdempotencyKey && existing.CustomerID == ex.CustomerID,
			existing.OrderItemID == ex.OrderItemID && existing.Status != domain.ExchangeStatusRejected:
			return fmt.Errorf("exchange for item %s: %w", ex.OrderItemID, repository.ErrDuplicate)
		}
	}
	r.s.exchanges[ex.ID] = cloneExchange(ex)
	return nil
}

func (r *exchangeRepo) FindByID(ctx context.Context, id string) (*domain.Exchange, error) {
	defer r.s.lock(ctx)()
	ex, ok := r.s.exchanges[id]
	if !ok {
		return nil, fmt.Errorf("exchange %s: %w", id, repository.ErrNotFound)
	}
	c := cloneExchange(&ex)
	return &c, nil
}

func (r *exchangeRepo) FindByIdempotencyKey(ctx context.Context, customerID, key string) (*domain.Exchange, error) {
	defer r.s.lock(ctx)()
	for _, ex := range r.s.exchanges {
		if key != "" && ex.IdempotencyKey == key && ex.CustomerID == customerID {
			c := cloneExchange(&ex)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("exchange with idempotency key %s: %w", key, repository.ErrNotFound)
}

func (r *exchangeRepo) FindByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*domain.Exchange, error) {
	defer r.s.lock(ctx)()
	for _, ex := range r.s.exchanges {
		if ex.ExchangeOrderID != nil && *ex.ExchangeOrderID == exchangeOrderID {
			c := cloneExchange(&ex)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("exchange for order %s: %w", exchangeOrderID, repository.ErrNotFound)
}

func (r *exchangeRepo) HasOpenForItem(ctx context.Context, orderItemID string) (bool, error) {
	defer r.s.lock(ctx)()
	for _, ex := range r.s.exchanges {
		if ex.OrderItemID == orderItemID && ex.Status != domain.ExchangeStatusRejected {
			return true, nil
		}
	}
	return false, nil
}

func (r *exchangeRepo) List(ctx context.Context, filter repository.ExchangeFilter) ([]*domain.Exchange, error) {
	defer r.s.lock(ctx)()
	var list []*domain.Exchange
	for _, ex := range r.s.exchanges {
		if filter.Status != "" && ex.Status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && ex.CustomerID != filter.CustomerID {
			continue
		}
		if filter.OrderID != "" && ex.OrderID != filter.OrderID {
			continue
		}
		c := cloneExchange(&ex)
		list = append(list, &c)
	}
	sortNewestFirst(list)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if filter.Offset >= len(list) {
		return nil, nil
	}
	list = list[filter.Offset:]
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func sortNewestFirst(list []*domain.Exchange) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

func (r *exchangeRepo) CompareAndSetStatus(ctx context.Context, id string, from, to domain.ExchangeStatus, adminNotes *string) (bool, error) {
	defer r.s.lock(ctx)()
	ex, ok := r.s.exchanges[id]
	if !ok || ex.Status != from {
		return false, nil
	}
	ex.Status = to
	if adminNotes != nil {
		ex.AdminNotes = *adminNotes
	}
	ex.UpdatedAt = r.s.now()
	r.s.exchanges[id] = ex
	return true, nil
}

func (r *exchangeRepo) MarkPickupScheduled(ctx context.Context, id string, scheduledAt time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	ex, ok := r.s.exchanges[id]
	if !ok || !ex.NeedsPickup() {
		return false, nil
	}
	ex.Status = domain.ExchangeStatusReturnShipped
	ex.ReturnPickupScheduled = &scheduledAt
	ex.UpdatedAt = r.s.now()
	r.s.exchanges[id] = ex
	return true, nil
}

func (r *exchangeRepo) RecordPickup(ctx context.Context, id string, scheduledAt time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	ex, ok := r.s.exchanges[id]
	if !ok || !ex.MissingPickup() {
		return false, nil
	}
	ex.ReturnPickupScheduled = &scheduledAt
	ex.UpdatedAt = r.s.now()
	r.s.exchanges[id] = ex
	return true, nil
}

func (r *exchangeRepo) LinkExchangeOrder(ctx context.Context, id, exchangeOrderID string) (domain.ExchangeStatus, bool, error) {
	defer r.s.lock(ctx)()
	ex, ok := r.s.exchanges[id]
	if !ok || ex.IsLinked() || !ex.Status.AwaitingExchangeOrder() {
		return "", false, nil
	}
	for _, other := range r.s.exchanges {
		if other.ExchangeOrderID != nil && *other.ExchangeOrderID == exchangeOrderID {
			return "", false, fmt.Errorf("exchange order %s already linked: %w", exchangeOrderID, repository.ErrDuplicate)
		}
	}
	prev := ex.Status
	ex.ExchangeOrderID = &exchangeOrderID
	ex.Status = domain.ExchangeStatusExchangeShipped
	ex.UpdatedAt = r.s.now()
	r.s.exchanges[id] = ex
	return prev, true, nil
}

func (r *exchangeRepo) AppendTransition(ctx context.Context, t *domain.ExchangeTransition) error {
	defer r.s.lock(ctx)()
	r.s.transitions = append(r.s.transitions, *t)
	return nil
}

func (r *exchangeRepo) FindTransitions(ctx context.Context, exchangeID string) ([]*domain.ExchangeTransition, error) {
	defer r.s.lock(ctx)()
	var list []*domain.ExchangeTransition
	for _, t := range r.s.transitions {
		if t.ExchangeID == exchangeID {
			t := t
			list = append(list, &t)
		}
	}
	return list, nil
}

func (r *exchangeRepo) FindNeedingReconciliation(ctx context.Context, limit int) ([]*domain.Exchange, error) {
	defer r.s.lock(ctx)()
	var list []*domain.Exchange
	for _, ex := range r.s.exchanges {
		if !ex.IsLinked() {
			continue
		}
		if r.s.hasLedgerEntry(ex.ID, *ex.ExchangeOrderID) &&
			r.s.orders[ex.OrderID].HasBeenExchanged &&
			r.s.hasLineage(*ex.ExchangeOrderID) &&
			!ex.MissingPickup() {
			continue
		}
		c := cloneExchange(&ex)
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.Before(list[j].UpdatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *Store) hasLedgerEntry(exchangeID, exchangeOrderID string) bool {
	for _, e := range s.ledger {
		if e.ExchangeID == exchangeID && e.ExchangeOrderID == exchangeOrderID {
			return true
		}
	}
	return false
}

func (s *Store) hasLineage(orderID string) bool {
	o, ok := s.orders[orderID]
	return ok && o.HasLineage()
}
