package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
)

// ledgerRepo 추가와 조회만 노출
type ledgerRepo struct {
	s *Store
}

func (r *ledgerRepo) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	defer r.s.lock(ctx)()
	if r.s.hasLedgerEntry(entry.ExchangeID, entry.ExchangeOrderID) {
		return fmt.Errorf("ledger entry for exchange %s: %w", entry.ExchangeID, repository.ErrDuplicate)
	}
	r.s.ledger = append(r.s.ledger, *entry)
	return nil
}

func (r *ledgerRepo) FindByExchangeID(ctx context.Context, exchangeID string) ([]*domain.LedgerEntry, error) {
	return r.filter(ctx, func(e domain.LedgerEntry) bool { return e.ExchangeID == exchangeID }), nil
}

func (r *ledgerRepo) FindByOriginalOrderID(ctx context.Context, orderID string) ([]*domain.LedgerEntry, error) {
	return r.filter(ctx, func(e domain.LedgerEntry) bool { return e.OriginalOrderID == orderID }), nil
}

func (r *ledgerRepo) FindByRootOrderID(ctx context.Context, rootOrderID string) ([]*domain.LedgerEntry, error) {
	return r.filter(ctx, func(e domain.LedgerEntry) bool { return e.RootOrderID == rootOrderID }), nil
}

func (r *ledgerRepo) FindByCustomerID(ctx context.Context, customerID string) ([]*domain.LedgerEntry, error) {
	return r.filter(ctx, func(e domain.LedgerEntry) bool { return e.CustomerID == customerID }), nil
}

func (r *ledgerRepo) filter(ctx context.Context, match func(domain.LedgerEntry) bool) []*domain.LedgerEntry {
	defer r.s.lock(ctx)()
	var out []*domain.LedgerEntry
	for _, e := range r.s.ledger {
		if match(e) {
			e := e
			out = append(out, &e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExchangeChainLevel < out[j].ExchangeChainLevel
	})
	return out
}

type outboxRepo struct {
	s *Store
}

func (r *outboxRepo) Insert(ctx context.Context, event *repository.OutboxEvent) error {
	defer r.s.lock(ctx)()
	r.s.outbox = append(r.s.outbox, *event)
	return nil
}

func (r *outboxRepo) FindPending(ctx context.Context, limit int) ([]*repository.OutboxEvent, error) {
	defer r.s.lock(ctx)()
	var out []*repository.OutboxEvent
	for _, e := range r.s.outbox {
		if e.Status != repository.OutboxStatusPending {
			continue
		}
		e := e
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepo) MarkSent(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	for i := range r.s.outbox {
		if r.s.outbox[i].ID == id {
			now := r.s.now()
			r.s.outbox[i].Status = repository.OutboxStatusSent
			r.s.outbox[i].SentAt = &now
			return nil
		}
	}
	return fmt.Errorf("outbox event %s: %w", id, repository.ErrNotFound)
}
