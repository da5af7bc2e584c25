// Package memory 는 모든 레포지토리와 Transactor 의 인메모리 구현이다.
// 로컬 실행(STORAGE=memory)과 엔진 테스트에서 사용한다.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
)

type txKey struct{}

// Store 하나의 뮤텍스로 보호되는 인메모리 저장소
type Store struct {
	mu sync.Mutex

	orders      map[string]domain.Order
	items       map[string]domain.OrderItem
	products    map[string]domain.Product
	exchanges   map[string]domain.Exchange
	transitions []domain.ExchangeTransition
	ledger      []domain.LedgerEntry
	outbox      []repository.OutboxEvent

	now func() time.Time
}

// NewStore 빈 저장소 생성
func NewStore() *Store {
	return &Store{
		orders:    make(map[string]domain.Order),
		items:     make(map[string]domain.OrderItem),
		products:  make(map[string]domain.Product),
		exchanges: make(map[string]domain.Exchange),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Orders() repository.OrderRepository       { return &orderRepo{s: s} }
func (s *Store) Products() repository.ProductRepository   { return &productRepo{s: s} }
func (s *Store) Exchanges() repository.ExchangeRepository { return &exchangeRepo{s: s} }
func (s *Store) Ledger() repository.LedgerRepository      { return &ledgerRepo{s: s} }
func (s *Store) Outbox() repository.OutboxRepository      { return &outboxRepo{s: s} }

// WithinTx 저장소 전체를 잠그고 fn 이 실패하면 스냅샷으로 되돌린다
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// lock 트랜잭션 안에서는 이미 잠금을 보유하고 있으므로 건너뜀
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	orders      map[string]domain.Order
	items       map[string]domain.OrderItem
	products    map[string]domain.Product
	exchanges   map[string]domain.Exchange
	transitions int
	ledger      int
	outbox      []repository.OutboxEvent
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		orders:      copyMap(s.orders),
		items:       copyMap(s.items),
		products:    copyMap(s.products),
		exchanges:   copyMap(s.exchanges),
		transitions: len(s.transitions),
		ledger:      len(s.ledger),
		outbox:      append([]repository.OutboxEvent(nil), s.outbox...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.orders = snap.orders
	s.items = snap.items
	s.products = snap.products
	s.exchanges = snap.exchanges
	s.transitions = s.transitions[:snap.transitions]
	s.ledger = s.ledger[:snap.ledger]
	s.outbox = snap.outbox
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PutOrder 체크아웃에서 만들어진 주문을 적재 (테스트/로컬 픽스처용)
func (s *Store) PutOrder(o *domain.Order, items ...*domain.OrderItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(o)
	for _, it := range items {
		s.items[it.ID] = *it
	}
}

// PutProduct 상품 적재
func (s *Store) PutProduct(p *domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = *p
}

// Fixtures 로컬 실행용 JSON 픽스처 형식
type Fixtures struct {
	Orders   []domain.Order     `json:"orders"`
	Items    []domain.OrderItem `json:"items"`
	Products []domain.Product   `json:"products"`
}

// LoadFixtures JSON 픽스처 적재
func (s *Store) LoadFixtures(r io.Reader) error {
	var f Fixtures
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return fmt.Errorf("failed to decode fixtures: %w", err)
	}
	for i := range f.Orders {
		s.PutOrder(&f.Orders[i])
	}
	s.mu.Lock()
	for _, it := range f.Items {
		s.items[it.ID] = it
	}
	for _, p := range f.Products {
		s.products[p.ID] = p
	}
	s.mu.Unlock()
	return nil
}

func cloneOrder(o *domain.Order) domain.Order {
	c := *o
	if o.OriginalOrderID != nil {
		v := *o.OriginalOrderID
		c.OriginalOrderID = &v
	}
	if o.ExchangeChainLevel != nil {
		v := *o.ExchangeChainLevel
		c.ExchangeChainLevel = &v
	}
	return c
}

func cloneExchange(e *domain.Exchange) domain.Exchange {
	c := *e
	if e.ExchangeOrderID != nil {
		v := *e.ExchangeOrderID
		c.ExchangeOrderID = &v
	}
	if e.ReturnPickupScheduled != nil {
		v := *e.ReturnPickupScheduled
		c.ReturnPickupScheduled = &v
	}
	return c
}
