package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
)

const orderColumns = `
	id, order_number, customer_id,
	recipient_name, phone, address, address_detail, postal_code,
	subtotal, discount_amount, final_amount,
	payment_method, payment_status, order_status, shipping_status,
	original_order_id, exchange_chain_level, has_been_exchanged,
	created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository 주문 레포지토리 생성
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	o := &domain.Order{}
	var (
		originalOrderID sql.NullString
		chainLevel      sql.NullInt64
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID,
		&o.Shipping.RecipientName, &o.Shipping.Phone, &o.Shipping.Address, &o.Shipping.AddressDetail, &o.Shipping.PostalCode,
		&o.Subtotal, &o.DiscountAmount, &o.FinalAmount,
		&o.PaymentMethod, &o.PaymentStatus, &o.OrderStatus, &o.ShippingStatus,
		&originalOrderID, &chainLevel, &o.HasBeenExchanged,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.OriginalOrderID = stringPtr(originalOrderID)
	o.ExchangeChainLevel = intPtr(chainLevel)
	return o, nil
}

func (r *orderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return o, nil
}

func (r *orderRepository) FindItemByID(ctx context.Context, id string) (*domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, subtotal, created_at
		FROM order_items
		WHERE id = $1
	`

	item := &domain.OrderItem{}
	err := conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
		&item.Quantity, &item.UnitPrice, &item.Subtotal, &item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order item: %w", err)
	}
	return item, nil
}

func (r *orderRepository) FindItemsByOrderID(ctx context.Context, orderID string) ([]*domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, subtotal, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to find order items: %w", err)
	}
	defer rows.Close()

	var items []*domain.OrderItem
	for rows.Next() {
		item := &domain.OrderItem{}
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.Subtotal, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Create 주문 생성. 교환 주문 금액 검사는 DB CHECK 이전에 여기서 먼저 수행
func (r *orderRepository) Create(ctx context.Context, o *domain.Order) error {
	if err := o.ValidateDraft(); err != nil {
		return err
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	var chainLevel sql.NullInt64
	if o.ExchangeChainLevel != nil {
		chainLevel = sql.NullInt64{Int64: int64(*o.ExchangeChainLevel), Valid: true}
	}

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		o.ID, o.OrderNumber, o.CustomerID,
		o.Shipping.RecipientName, o.Shipping.Phone, o.Shipping.Address, o.Shipping.AddressDetail, o.Shipping.PostalCode,
		o.Subtotal, o.DiscountAmount, o.FinalAmount,
		o.PaymentMethod, o.PaymentStatus, o.OrderStatus, o.ShippingStatus,
		nullString(o.OriginalOrderID), chainLevel, o.HasBeenExchanged,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s: %w", o.OrderNumber, ErrDuplicate)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *orderRepository) CreateItem(ctx context.Context, item *domain.OrderItem) error {
	query := `
		INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, subtotal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		item.ID, item.OrderID, item.ProductID, item.ProductName,
		item.Quantity, item.UnitPrice, item.Subtotal, item.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order item %s: %w", item.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create order item: %w", err)
	}
	return nil
}

func (r *orderRepository) UpdateLineage(ctx context.Context, orderID string, lineage domain.Lineage) (*domain.Order, error) {
	query := `
		UPDATE orders
		SET original_order_id = $2, exchange_chain_level = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orderColumns

	o, err := scanOrder(conn(ctx, r.db).QueryRowContext(ctx, query, orderID, lineage.RootOrderID, lineage.Level))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order lineage: %w", err)
	}
	return o, nil
}

// MarkExchanged 이미 true 인 행은 updated_at 도 건드리지 않음
func (r *orderRepository) MarkExchanged(ctx context.Context, orderID string) (*domain.Order, error) {
	query := `
		UPDATE orders
		SET has_been_exchanged = TRUE,
		    updated_at = CASE WHEN has_been_exchanged THEN updated_at ELSE NOW() END
		WHERE id = $1
		RETURNING ` + orderColumns

	o, err := scanOrder(conn(ctx, r.db).QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark order exchanged: %w", err)
	}
	return o, nil
}

func (r *orderRepository) FindChain(ctx context.Context, rootID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1 OR original_order_id = $1
		ORDER BY COALESCE(exchange_chain_level, 0) ASC, created_at ASC
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to find order chain: %w", err)
	}
	defer rows.Close()

	var chain []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		chain = append(chain, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order chain: %w", err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("order %s: %w", rootID, ErrNotFound)
	}
	return chain, nil
}
