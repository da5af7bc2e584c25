package domain

import "time"

// LedgerEntry 교환 원장 항목. 기록 후 변경/삭제 불가
type LedgerEntry struct {
	ID                string         `json:"id"`
	ExchangeID        string         `json:"exchangeId"`
	ExchangeNumber    string         `json:"exchangeNumber"`
	OriginalOrderID   string         `json:"originalOrderId"` // 교환 대상이 된 직전 주문
	RootOrderID       string         `json:"rootOrderId"`
	ExchangeOrderID   string         `json:"exchangeOrderId"`
	CustomerID        string         `json:"customerId"`
	ReturnProductID   string         `json:"returnProductId"`
	ExchangeProductID string         `json:"exchangeProductId"`
	Quantity          int            `json:"quantity"`
	Status            ExchangeStatus `json:"status"`
	// ExchangeChainLevel 직전 주문의 깊이 (새 주문 레벨 - 1)
	ExchangeChainLevel int       `json:"exchangeChainLevel"`
	CreatedAt          time.Time `json:"createdAt"`
}

// NewLedgerEntry 교환 주문 생성 시점의 스냅샷
func NewLedgerEntry(id string, ex *Exchange, exchangeOrderID string, lineage Lineage, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:                 id,
		ExchangeID:         ex.ID,
		ExchangeNumber:     ex.ExchangeNumber,
		OriginalOrderID:    ex.OrderID,
		RootOrderID:        lineage.RootOrderID,
		ExchangeOrderID:    exchangeOrderID,
		CustomerID:         ex.CustomerID,
		ReturnProductID:    ex.ReturnProductID,
		ExchangeProductID:  ex.ExchangeProductID,
		Quantity:           ex.Quantity,
		Status:             ExchangeStatusExchangeShipped,
		ExchangeChainLevel: lineage.Level - 1,
		CreatedAt:          now,
	}
}
