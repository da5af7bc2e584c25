package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/lib/pq"
)

const exchangeColumns = `
	id, exchange_number, order_id, order_item_id, customer_id,
	return_product_id, exchange_product_id, quantity, status, exchange_order_id,
	reason, description, admin_notes, idempotency_key, return_pickup_scheduled,
	created_at, updated_at`

type exchangeRepository struct {
	db *sql.DB
}

// NewExchangeRepository 교환 레포지토리 생성
func NewExchangeRepository(db *sql.DB) ExchangeRepository {
	return &exchangeRepository{db: db}
}

func scanExchange(row rowScanner) (*domain.Exchange, error) {
	ex := &domain.Exchange{}
	var (
		exchangeOrderID sql.NullString
		idempotencyKey  sql.NullString
		pickup          sql.NullTime
	)
	err := row.Scan(
		&ex.ID, &ex.ExchangeNumber, &ex.OrderID, &ex.OrderItemID, &ex.CustomerID,
		&ex.ReturnProductID, &ex.ExchangeProductID, &ex.Quantity, &ex.Status, &exchangeOrderID,
		&ex.Reason, &ex.Description, &ex.AdminNotes, &idempotencyKey, &pickup,
		&ex.CreatedAt, &ex.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ex.ExchangeOrderID = stringPtr(exchangeOrderID)
	ex.IdempotencyKey = idempotencyKey.String
	ex.ReturnPickupScheduled = timePtr(pickup)
	return ex, nil
}

func scanExchanges(rows *sql.Rows) ([]*domain.Exchange, error) {
	defer rows.Close()
	var list []*domain.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		list = append(list, ex)
	}
	return list, rows.Err()
}

func (r *exchangeRepository) Create(ctx context.Context, ex *domain.Exchange) error {
	query := `
		INSERT INTO exchanges (` + exchangeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		ex.ID, ex.ExchangeNumber, ex.OrderID, ex.OrderItemID, ex.CustomerID,
		ex.ReturnProductID, ex.ExchangeProductID, ex.Quantity, ex.Status, nullString(ex.ExchangeOrderID),
		ex.Reason, ex.Description, ex.AdminNotes, emptyToNull(ex.IdempotencyKey), ex.ReturnPickupScheduled,
		ex.CreatedAt, ex.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("exchange for item %s: %w", ex.OrderItemID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create exchange: %w", err)
	}
	return nil
}

func (r *exchangeRepository) FindByID(ctx context.Context, id string) (*domain.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE id = $1`

	ex, err := scanExchange(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("exchange %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find exchange: %w", err)
	}
	return ex, nil
}

// FindByIdempotencyKey 멱등 키는 고객 단위로 유일
func (r *exchangeRepository) FindByIdempotencyKey(ctx context.Context, customerID, key string) (*domain.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE customer_id = $1 AND idempotency_key = $2`

	ex, err := scanExchange(conn(ctx, r.db).QueryRowContext(ctx, query, customerID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("exchange with idempotency key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find exchange: %w", err)
	}
	return ex, nil
}

func (r *exchangeRepository) FindByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*domain.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE exchange_order_id = $1`

	ex, err := scanExchange(conn(ctx, r.db).QueryRowContext(ctx, query, exchangeOrderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("exchange for order %s: %w", exchangeOrderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find exchange: %w", err)
	}
	return ex, nil
}

func (r *exchangeRepository) HasOpenForItem(ctx context.Context, orderItemID string) (bool, error) {
	var exists bool
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM exchanges WHERE order_item_id = $1 AND status <> $2)`,
		orderItemID, domain.ExchangeStatusRejected,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open exchanges: %w", err)
	}
	return exists, nil
}

func (r *exchangeRepository) List(ctx context.Context, filter ExchangeFilter) ([]*domain.Exchange, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.OrderID != "" {
		add("order_id = $%d", filter.OrderID)
	}

	query := `SELECT ` + exchangeColumns + ` FROM exchanges`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	return scanExchanges(rows)
}

// CompareAndSetStatus 승인/거절 경쟁은 status 조건으로 한쪽만 성공
func (r *exchangeRepository) CompareAndSetStatus(ctx context.Context, id string, from, to domain.ExchangeStatus, adminNotes *string) (bool, error) {
	query := `
		UPDATE exchanges
		SET status = $3, admin_notes = COALESCE($4, admin_notes), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, id, from, to, nullString(adminNotes))
	if err != nil {
		return false, fmt.Errorf("failed to update exchange status: %w", err)
	}
	return affectedOne(result)
}

func (r *exchangeRepository) MarkPickupScheduled(ctx context.Context, id string, scheduledAt time.Time) (bool, error) {
	query := `
		UPDATE exchanges
		SET status = $2, return_pickup_scheduled = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND return_pickup_scheduled IS NULL
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		id, domain.ExchangeStatusReturnShipped, scheduledAt, domain.ExchangeStatusApproved)
	if err != nil {
		return false, fmt.Errorf("failed to mark pickup scheduled: %w", err)
	}
	return affectedOne(result)
}

func (r *exchangeRepository) RecordPickup(ctx context.Context, id string, scheduledAt time.Time) (bool, error) {
	query := `
		UPDATE exchanges
		SET return_pickup_scheduled = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND return_pickup_scheduled IS NULL
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, id, scheduledAt, domain.ExchangeStatusExchangeShipped)
	if err != nil {
		return false, fmt.Errorf("failed to record pickup: %w", err)
	}
	return affectedOne(result)
}

// LinkExchangeOrder 동시 재시도 중 하나만 연결에 성공. 나머지는 행 잠금 해제 후 0건으로 끝남.
// 잠근 행에서 읽은 직전 상태를 RETURNING 으로 돌려준다
func (r *exchangeRepository) LinkExchangeOrder(ctx context.Context, id, exchangeOrderID string) (domain.ExchangeStatus, bool, error) {
	query := `
		UPDATE exchanges e
		SET exchange_order_id = $2, status = $3, updated_at = NOW()
		FROM (SELECT id, status FROM exchanges WHERE id = $1 FOR UPDATE) prev
		WHERE e.id = prev.id AND e.exchange_order_id IS NULL AND e.status = ANY($4)
		RETURNING prev.status
	`

	awaiting := pq.Array([]string{
		string(domain.ExchangeStatusApproved),
		string(domain.ExchangeStatusReturnShipped),
	})
	var prev domain.ExchangeStatus
	err := conn(ctx, r.db).QueryRowContext(ctx, query,
		id, exchangeOrderID, domain.ExchangeStatusExchangeShipped, awaiting).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		if isUniqueViolation(err) {
			return "", false, fmt.Errorf("exchange order %s already linked: %w", exchangeOrderID, ErrDuplicate)
		}
		return "", false, fmt.Errorf("failed to link exchange order: %w", err)
	}
	return prev, true, nil
}

func (r *exchangeRepository) AppendTransition(ctx context.Context, t *domain.ExchangeTransition) error {
	query := `
		INSERT INTO exchange_transitions (id, exchange_id, from_status, to_status, actor_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		t.ID, t.ExchangeID, t.FromStatus, t.ToStatus, t.ActorID, t.Note, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append exchange transition: %w", err)
	}
	return nil
}

func (r *exchangeRepository) FindTransitions(ctx context.Context, exchangeID string) ([]*domain.ExchangeTransition, error) {
	query := `
		SELECT id, exchange_id, from_status, to_status, actor_id, note, created_at
		FROM exchange_transitions
		WHERE exchange_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("failed to find exchange transitions: %w", err)
	}
	defer rows.Close()

	var list []*domain.ExchangeTransition
	for rows.Next() {
		t := &domain.ExchangeTransition{}
		if err := rows.Scan(&t.ID, &t.ExchangeID, &t.FromStatus, &t.ToStatus, &t.ActorID, &t.Note, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange transition: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (r *exchangeRepository) FindNeedingReconciliation(ctx context.Context, limit int) ([]*domain.Exchange, error) {
	query := `SELECT ` + prefixed("e", exchangeColumns) + `
		FROM exchanges e
		JOIN orders origin ON origin.id = e.order_id
		JOIN orders repl ON repl.id = e.exchange_order_id
		WHERE e.exchange_order_id IS NOT NULL
		  AND (
		      NOT EXISTS (
		          SELECT 1 FROM exchange_ledger l
		          WHERE l.exchange_id = e.id AND l.exchange_order_id = e.exchange_order_id
		      )
		      OR origin.has_been_exchanged = FALSE
		      OR repl.original_order_id IS NULL
		      OR repl.exchange_chain_level IS NULL
		      OR (e.status = 'exchange_shipped' AND e.return_pickup_scheduled IS NULL)
		  )
		ORDER BY e.updated_at ASC
		LIMIT $1
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find exchanges needing reconciliation: %w", err)
	}
	return scanExchanges(rows)
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}
