package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	apperrors "github.com/kyungseok/msa-exchange-go/common/errors"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/service"
	"go.uber.org/zap"
)

// HTTPHandler HTTP 핸들러
type HTTPHandler struct {
	exchangeService service.ExchangeService
	validate        *validator.Validate
	logger          *zap.Logger
}

// NewHTTPHandler HTTP 핸들러 생성
func NewHTTPHandler(exchangeService service.ExchangeService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		exchangeService: exchangeService,
		validate:        newValidator(),
		logger:          logger.Named("http"),
	}
}

// ErrorResponse 에러 응답
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// NewRouter 라우터 구성
func NewRouter(h *HTTPHandler, auth *Authenticator, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger.Named("access")))

	r.GET("/health", h.HealthCheck)

	api := r.Group("/api", auth.Middleware())
	api.POST("/exchanges", RequireRole(RoleCustomer, RoleAdmin), h.CreateExchange)
	api.GET("/exchanges", h.ListExchanges)
	api.GET("/exchanges/:id", h.GetExchange)
	api.GET("/exchanges/:id/transitions", h.ListTransitions)
	api.GET("/orders/:id/chain", h.GetChain)
	api.GET("/ledger", h.ListLedger)

	admin := api.Group("/admin", RequireRole(RoleAdmin))
	admin.POST("/exchanges/:id/approve", h.ApproveExchange)
	admin.POST("/exchanges/:id/reject", h.RejectExchange)
	admin.POST("/exchanges/:id/exchange-order", h.CreateExchangeOrder)
	admin.POST("/exchanges/:id/reconcile", h.ReconcileExchange)
	admin.GET("/exchanges/reconciliation", h.ListNeedingReconciliation)

	return r
}

// HealthCheck 헬스 체크 API
func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// CreateExchange 교환 요청 생성 API
func (h *HTTPHandler) CreateExchange(c *gin.Context) {
	var req CreateExchangeRequest
	if err := bindAndValidate(c, &req, h.validate); err != nil {
		return
	}

	actor := actorOf(c)
	customerID := req.CustomerID
	if !isAdmin(c) {
		if customerID != "" && customerID != actor {
			h.respondForbidden(c, "customers may only request exchanges for themselves")
			return
		}
		customerID = actor
	} else if customerID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Code:   string(apperrors.ErrCodeInvalidRequest),
			Fields: map[string]string{"CustomerID": "required"},
		})
		return
	}

	ex, err := h.exchangeService.CreateExchange(c.Request.Context(), service.CreateExchangeCommand{
		OrderID:           req.OrderID,
		OrderItemID:       req.OrderItemID,
		CustomerID:        customerID,
		ReturnProductID:   req.ReturnProductID,
		ExchangeProductID: req.ExchangeProductID,
		Quantity:          req.Quantity,
		Reason:            req.Reason,
		Description:       req.Description,
		IdempotencyKey:    c.GetHeader("Idempotency-Key"),
		ActorID:           actor,
	})
	if err != nil {
		h.respondError(c, "failed to create exchange", err)
		return
	}

	c.JSON(http.StatusCreated, ex)
}

// ListExchanges 교환 목록 API. 고객은 본인 것만
func (h *HTTPHandler) ListExchanges(c *gin.Context) {
	limit, ok := h.intQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := h.intQuery(c, "offset")
	if !ok {
		return
	}

	filter := repository.ExchangeFilter{
		Status:     domain.ExchangeStatus(c.Query("status")),
		CustomerID: c.Query("customer_id"),
		OrderID:    c.Query("order_id"),
		Limit:      limit,
		Offset:     offset,
	}
	if !isAdmin(c) {
		filter.CustomerID = actorOf(c)
	}

	list, err := h.exchangeService.ListExchanges(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, "failed to list exchanges", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": nonNil(list), "limit": service.ClampListLimit(limit), "offset": offset})
}

// GetExchange 교환 조회 API
func (h *HTTPHandler) GetExchange(c *gin.Context) {
	ex, ok := h.visibleExchange(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ex)
}

// ListTransitions 교환 상태 이력 API
func (h *HTTPHandler) ListTransitions(c *gin.Context) {
	ex, ok := h.visibleExchange(c)
	if !ok {
		return
	}
	list, err := h.exchangeService.ListTransitions(c.Request.Context(), ex.ID)
	if err != nil {
		h.respondError(c, "failed to list transitions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": nonNil(list)})
}

// GetChain 주문 교환 체인 API
func (h *HTTPHandler) GetChain(c *gin.Context) {
	chain, err := h.exchangeService.GetChainForOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "failed to load order chain", err)
		return
	}
	if !isAdmin(c) && chain[0].CustomerID != actorOf(c) {
		h.respondNotFound(c, "order not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": nonNil(chain)})
}

// ListLedger 교환 원장 조회 API
func (h *HTTPHandler) ListLedger(c *gin.Context) {
	q := service.LedgerQuery{
		ExchangeID:      c.Query("exchange_id"),
		OriginalOrderID: c.Query("original_order_id"),
		RootOrderID:     c.Query("root_order_id"),
		CustomerID:      c.Query("customer_id"),
	}

	entries, err := h.exchangeService.ListLedger(c.Request.Context(), q)
	if err != nil {
		h.respondError(c, "failed to read ledger", err)
		return
	}

	if !isAdmin(c) {
		actor := actorOf(c)
		own := entries[:0]
		for _, e := range entries {
			if e.CustomerID == actor {
				own = append(own, e)
			}
		}
		entries = own
	}
	c.JSON(http.StatusOK, gin.H{"entries": nonNil(entries)})
}

// ApproveExchange 교환 승인 API
func (h *HTTPHandler) ApproveExchange(c *gin.Context) {
	var req DecisionRequest
	if err := bindOptional(c, &req, h.validate); err != nil {
		return
	}

	ex, err := h.exchangeService.ApproveExchange(c.Request.Context(), service.DecisionCommand{
		ExchangeID: c.Param("id"),
		ActorID:    actorOf(c),
		Notes:      req.Notes,
	})
	if err != nil {
		h.respondError(c, "failed to approve exchange", err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

// RejectExchange 교환 거절 API
func (h *HTTPHandler) RejectExchange(c *gin.Context) {
	var req DecisionRequest
	if err := bindOptional(c, &req, h.validate); err != nil {
		return
	}

	ex, err := h.exchangeService.RejectExchange(c.Request.Context(), service.DecisionCommand{
		ExchangeID: c.Param("id"),
		ActorID:    actorOf(c),
		Notes:      req.Notes,
	})
	if err != nil {
		h.respondError(c, "failed to reject exchange", err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

// CreateExchangeOrder 교환 주문 생성 API. 재호출 시 기존 주문을 200 으로 반환
func (h *HTTPHandler) CreateExchangeOrder(c *gin.Context) {
	res, err := h.exchangeService.CreateExchangeOrder(c.Request.Context(), c.Param("id"), actorOf(c))
	if err != nil {
		h.respondError(c, "failed to create exchange order", err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// ReconcileExchange 단건 보정 API
func (h *HTTPHandler) ReconcileExchange(c *gin.Context) {
	res, err := h.exchangeService.ReconcileExchange(c.Request.Context(), c.Param("id"), actorOf(c))
	if err != nil {
		h.respondError(c, "failed to reconcile exchange", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListNeedingReconciliation 보정 대상 조회 API
func (h *HTTPHandler) ListNeedingReconciliation(c *gin.Context) {
	limit, ok := h.intQuery(c, "limit")
	if !ok {
		return
	}
	list, err := h.exchangeService.ListNeedingReconciliation(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, "failed to list exchanges needing reconciliation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": nonNil(list), "limit": service.ClampListLimit(limit)})
}

// visibleExchange 교환 조회. 고객에게 다른 고객의 교환은 없는 것으로 보인다
func (h *HTTPHandler) visibleExchange(c *gin.Context) (*domain.Exchange, bool) {
	ex, err := h.exchangeService.GetExchange(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "failed to get exchange", err)
		return nil, false
	}
	if !isAdmin(c) && ex.CustomerID != actorOf(c) {
		h.respondNotFound(c, "exchange not found")
		return nil, false
	}
	return ex, true
}

// nonNil 빈 목록을 null 대신 [] 로 내보낸다
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

func (h *HTTPHandler) intQuery(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: key + " must be a non-negative integer",
			Code:  string(apperrors.ErrCodeInvalidRequest),
		})
		return 0, false
	}
	return n, true
}

func (h *HTTPHandler) respondError(c *gin.Context, msg string, err error) {
	code := apperrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("code", string(code)), zap.Error(err))
	} else {
		h.logger.Info(msg, zap.String("code", string(code)), zap.Error(err))
	}

	c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		Code:      string(code),
		Retryable: apperrors.IsRetryable(err),
	})
}

func (h *HTTPHandler) respondNotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: msg, Code: string(apperrors.ErrCodeNotFound)})
}

func (h *HTTPHandler) respondForbidden(c *gin.Context, msg string) {
	c.JSON(http.StatusForbidden, ErrorResponse{Error: msg, Code: "FORBIDDEN"})
}

// statusFor 에러 코드 → HTTP 상태
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case apperrors.ErrCodeInvalidStateTransition, apperrors.ErrCodeDuplicateRequest, apperrors.ErrCodeOutOfStock:
		return http.StatusConflict
	case apperrors.ErrCodePrereqNotLoaded:
		return http.StatusUnprocessableEntity
	case apperrors.ErrCodeExternalCapabilityFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("actorId", actorOf(c)))
	}
}
