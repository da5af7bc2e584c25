package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
)

const ledgerColumns = `
	id, exchange_id, exchange_number, original_order_id, root_order_id, exchange_order_id,
	customer_id, return_product_id, exchange_product_id, quantity, status, exchange_chain_level,
	created_at`

type ledgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository 교환 원장 레포지토리 생성
func NewLedgerRepository(db *sql.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

// Append 같은 (exchange_id, exchange_order_id) 는 ErrDuplicate
func (r *ledgerRepository) Append(ctx context.Context, e *domain.LedgerEntry) error {
	query := `
		INSERT INTO exchange_ledger (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		e.ID, e.ExchangeID, e.ExchangeNumber, e.OriginalOrderID, e.RootOrderID, e.ExchangeOrderID,
		e.CustomerID, e.ReturnProductID, e.ExchangeProductID, e.Quantity, e.Status, e.ExchangeChainLevel,
		e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ledger entry for exchange %s: %w", e.ExchangeID, ErrDuplicate)
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (r *ledgerRepository) FindByExchangeID(ctx context.Context, exchangeID string) ([]*domain.LedgerEntry, error) {
	return r.findBy(ctx, "exchange_id", exchangeID)
}

func (r *ledgerRepository) FindByOriginalOrderID(ctx context.Context, orderID string) ([]*domain.LedgerEntry, error) {
	return r.findBy(ctx, "original_order_id", orderID)
}

func (r *ledgerRepository) FindByRootOrderID(ctx context.Context, rootOrderID string) ([]*domain.LedgerEntry, error) {
	return r.findBy(ctx, "root_order_id", rootOrderID)
}

func (r *ledgerRepository) FindByCustomerID(ctx context.Context, customerID string) ([]*domain.LedgerEntry, error) {
	return r.findBy(ctx, "customer_id", customerID)
}

// findBy column 은 위 메서드의 상수만 전달됨
func (r *ledgerRepository) findBy(ctx context.Context, column, value string) ([]*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM exchange_ledger WHERE ` + column + ` = $1
		ORDER BY exchange_chain_level ASC, created_at ASC`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("failed to find ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e := &domain.LedgerEntry{}
		if err := rows.Scan(
			&e.ID, &e.ExchangeID, &e.ExchangeNumber, &e.OriginalOrderID, &e.RootOrderID, &e.ExchangeOrderID,
			&e.CustomerID, &e.ReturnProductID, &e.ExchangeProductID, &e.Quantity, &e.Status, &e.ExchangeChainLevel,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
