package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
)

type orderRepo struct {
	s *Store
}

func (r *orderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	defer r.s.lock(ctx)()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, repository.ErrNotFound)
	}
	c := cloneOrder(&o)
	return &c, nil
}

func (r *orderRepo) FindItemByID(ctx context.Context, id string) (*domain.OrderItem, error) {
	defer r.s.lock(ctx)()
	it, ok := r.s.items[id]
	if !ok {
		return nil, fmt.Errorf("order item %s: %w", id, repository.ErrNotFound)
	}
	return &it, nil
}

func (r *orderRepo) FindItemsByOrderID(ctx context.Context, orderID string) ([]*domain.OrderItem, error) {
	defer r.s.lock(ctx)()
	var items []*domain.OrderItem
	for _, it := range r.s.items {
		if it.OrderID == orderID {
			it := it
			items = append(items, &it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r *orderRepo) Create(ctx context.Context, o *domain.Order) error {
	if err := o.ValidateDraft(); err != nil {
		return err
	}
	defer r.s.lock(ctx)()
	if _, ok := r.s.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, repository.ErrDuplicate)
	}
	for _, existing := range r.s.orders {
		if existing.OrderNumber == o.OrderNumber {
			return fmt.Errorf("order %s: %w", o.OrderNumber, repository.ErrDuplicate)
		}
	}
	r.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *orderRepo) CreateItem(ctx context.Context, item *domain.OrderItem) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.orders[item.OrderID]; !ok {
		return fmt.Errorf("order %s: %w", item.OrderID, repository.ErrNotFound)
	}
	if _, ok := r.s.items[item.ID]; ok {
		return fmt.Errorf("order item %s: %w", item.ID, repository.ErrDuplicate)
	}
	r.s.items[item.ID] = *item
	return nil
}

func (r *orderRepo) UpdateLineage(ctx context.Context, orderID string, lineage domain.Lineage) (*domain.Order, error) {
	defer r.s.lock(ctx)()
	o, ok := r.s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, repository.ErrNotFound)
	}
	root, level := lineage.RootOrderID, lineage.Level
	o.OriginalOrderID = &root
	o.ExchangeChainLevel = &level
	o.UpdatedAt = r.s.now()
	r.s.orders[orderID] = o
	c := cloneOrder(&o)
	return &c, nil
}

func (r *orderRepo) MarkExchanged(ctx context.Context, orderID string) (*domain.Order, error) {
	defer r.s.lock(ctx)()
	o, ok := r.s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, repository.ErrNotFound)
	}
	if !o.HasBeenExchanged {
		o.HasBeenExchanged = true
		o.UpdatedAt = r.s.now()
		r.s.orders[orderID] = o
	}
	c := cloneOrder(&o)
	return &c, nil
}

func (r *orderRepo) FindChain(ctx context.Context, rootID string) ([]*domain.Order, error) {
	defer r.s.lock(ctx)()
	var chain []*domain.Order
	for _, o := range r.s.orders {
		if o.ID == rootID || (o.OriginalOrderID != nil && *o.OriginalOrderID == rootID) {
			c := cloneOrder(&o)
			chain = append(chain, &c)
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("order %s: %w", rootID, repository.ErrNotFound)
	}
	sort.Slice(chain, func(i, j int) bool {
		li, lj := chain[i].ChainLevel(), chain[j].ChainLevel()
		if li != lj {
			return li < lj
		}
		return chain[i].CreatedAt.Before(chain[j].CreatedAt)
	})
	return chain, nil
}

type productRepo struct {
	s *Store
}

func (r *productRepo) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, repository.ErrNotFound)
	}
	return &p, nil
}

func (r *productRepo) DecrementStock(ctx context.Context, id string, quantity int) error {
	defer r.s.lock(ctx)()
	p, ok := r.s.products[id]
	if !ok {
		return fmt.Errorf("product %s: %w", id, repository.ErrNotFound)
	}
	if p.Stock < quantity {
		return fmt.Errorf("product %s: %w", id, repository.ErrInsufficientStock)
	}
	p.Stock -= quantity
	r.s.products[id] = p
	return nil
}
