// Package pickup 는 역물류(회수) 예약 기능의 어댑터를 제공한다.
package pickup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/kyungseok/msa-exchange-go/common/errors"
	"go.uber.org/zap"
)

// Request 회수 예약 요청
type Request struct {
	ExchangeID     string `json:"exchangeId"`
	ExchangeNumber string `json:"exchangeNumber"`
	OrderID        string `json:"orderId"`
	OrderItemID    string `json:"orderItemId"`
	ProductID      string `json:"productId"`
	Quantity       int    `json:"quantity"`
	RecipientName  string `json:"recipientName"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
	AddressDetail  string `json:"addressDetail,omitempty"`
	PostalCode     string `json:"postalCode"`
}

// ErrRejected 배송사가 요청 자체를 거부. 같은 요청을 다시 보내도 결과가 같다
var ErrRejected = errors.New("pickup rejected by carrier")

// IsTransient 재시도로 해결될 수 있는 회수 예약 실패인지 판단.
// 분류되지 않은 에러(다른 Scheduler 구현, 호출 타임아웃)는 일시적인 것으로 본다.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrRejected) {
		return false
	}
	if apperrors.CodeOf(err) == apperrors.ErrCodeUnknownError {
		return true
	}
	return apperrors.IsRetryable(err)
}

// Scheduler 회수 예약. 같은 교환에 두 번 호출해도 회수가 중복되지 않아야 함
type Scheduler interface {
	SchedulePickup(ctx context.Context, req Request) (time.Time, error)
}

// HTTPScheduler 배송사 HTTP 엔드포인트 호출
type HTTPScheduler struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPScheduler 배송사 엔드포인트 스케줄러 생성
func NewHTTPScheduler(endpoint string, client *http.Client, logger *zap.Logger) *HTTPScheduler {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPScheduler{
		endpoint: endpoint,
		client:   client,
		logger:   logger.Named("pickup"),
	}
}

type scheduleResponse struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// SchedulePickup Idempotency-Key 로 교환 ID 를 넘겨 배송사 쪽에서 중복을 막는다
func (s *HTTPScheduler) SchedulePickup(ctx context.Context, req Request) (time.Time, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ErrCodeSerializationError, "failed to encode pickup request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ErrCodeExternalCapabilityFailure, "failed to build pickup request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ExchangeID)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return time.Time{}, apperrors.Wrap(apperrors.ErrCodeTimeoutError, "pickup request timed out", err)
		}
		return time.Time{}, apperrors.Wrap(apperrors.ErrCodeNetworkError, "pickup request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Warn("pickup rejected by carrier",
			zap.String("exchangeId", req.ExchangeID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet))
		msg := fmt.Sprintf("carrier responded with status %d", resp.StatusCode)
		if retryableStatus(resp.StatusCode) {
			return time.Time{}, apperrors.New(apperrors.ErrCodeExternalCapabilityFailure, msg)
		}
		return time.Time{}, apperrors.Wrap(apperrors.ErrCodeExternalCapabilityFailure, msg, ErrRejected)
	}

	var out scheduleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ErrCodeSerializationError, "failed to decode pickup response", err)
	}
	if out.ScheduledAt.IsZero() {
		return time.Time{}, apperrors.Wrap(apperrors.ErrCodeExternalCapabilityFailure, "carrier response missing scheduled_at", ErrRejected)
	}

	s.logger.Info("pickup scheduled",
		zap.String("exchangeId", req.ExchangeID),
		zap.Time("scheduledAt", out.ScheduledAt))
	return out.ScheduledAt, nil
}

// retryableStatus 5xx, 408, 429 만 재시도
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// ImmediateScheduler 로컬 실행용. 즉시 예약된 것으로 간주
type ImmediateScheduler struct {
	Now func() time.Time
}

func (s ImmediateScheduler) SchedulePickup(ctx context.Context, _ Request) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if s.Now != nil {
		return s.Now(), nil
	}
	return time.Now().UTC(), nil
}
