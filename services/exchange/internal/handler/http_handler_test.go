package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kyungseok/msa-exchange-go/common/idgen"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/domain"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/pickup"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository/memory"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type apiFixture struct {
	t      *testing.T
	router *gin.Engine
	auth   *Authenticator
	store  *memory.Store
	svc    service.ExchangeService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	store.PutOrder(&domain.Order{
		ID: "order-a", OrderNumber: "ORD-1", CustomerID: "cust-1",
		Shipping:      domain.Shipping{RecipientName: "Lee", Address: "Seoul", PostalCode: "04524"},
		PaymentMethod: "card", PaymentStatus: domain.PaymentStatusPaid,
		OrderStatus: domain.OrderStatusDelivered, ShippingStatus: domain.ShippingStatusDelivered,
		Subtotal: 30000, FinalAmount: 30000,
	}, &domain.OrderItem{ID: "item-a1", OrderID: "order-a", ProductID: "P1", Quantity: 1, UnitPrice: 30000, Subtotal: 30000})
	store.PutProduct(&domain.Product{ID: "P1", Name: "Red Shirt", Price: 30000, Stock: 5})
	store.PutProduct(&domain.Product{ID: "P2", Name: "Blue Shirt", Price: 30000, Stock: 5})

	ids, err := idgen.NewGenerator(1)
	require.NoError(t, err)

	svc := service.NewExchangeService(service.Deps{
		Tx:        store,
		Orders:    store.Orders(),
		Products:  store.Products(),
		Exchanges: store.Exchanges(),
		Ledger:    store.Ledger(),
		Outbox:    store.Outbox(),
		Pickup:    pickup.ImmediateScheduler{},
		IDs:       ids,
		Logger:    zap.NewNop(),
		Options:   service.DefaultOptions(),
	})

	auth := NewAuthenticator("test-secret", "exchange-service")
	return &apiFixture{
		t:      t,
		router: NewRouter(NewHTTPHandler(svc, zap.NewNop()), auth, zap.NewNop()),
		auth:   auth,
		store:  store,
		svc:    svc,
	}
}

func (f *apiFixture) token(actor string, role Role) string {
	f.t.Helper()
	tok, err := f.auth.IssueToken(actor, role, time.Hour)
	require.NoError(f.t, err)
	return tok
}

func (f *apiFixture) do(method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if body != nil {
		var buf bytes.Buffer
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
		req = httptest.NewRequest(method, path, &buf)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func validCreate() CreateExchangeRequest {
	return CreateExchangeRequest{
		OrderID:           "order-a",
		OrderItemID:       "item-a1",
		ReturnProductID:   "P1",
		ExchangeProductID: "P2",
		Quantity:          1,
		Reason:            "size",
	}
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestExchangeFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	customer := f.token("cust-1", RoleCustomer)
	admin := f.token("admin-1", RoleAdmin)

	w := f.do(http.MethodPost, "/api/exchanges", customer, validCreate())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ex := decode[domain.Exchange](t, w)
	assert.Equal(t, domain.ExchangeStatusPending, ex.Status)
	assert.Equal(t, "cust-1", ex.CustomerID)

	w = f.do(http.MethodPost, "/api/admin/exchanges/"+ex.ID+"/approve", customer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, "/api/admin/exchanges/"+ex.ID+"/approve", admin, DecisionRequest{Notes: "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.ExchangeStatusReturnShipped, decode[domain.Exchange](t, w).Status)

	w = f.do(http.MethodPost, "/api/admin/exchanges/"+ex.ID+"/exchange-order", admin, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[service.CreateExchangeOrderResult](t, w)
	assert.True(t, res.Created)
	require.NotNil(t, res.Order.ExchangeChainLevel)
	assert.Equal(t, 1, *res.Order.ExchangeChainLevel)

	w = f.do(http.MethodPost, "/api/admin/exchanges/"+ex.ID+"/exchange-order", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	again := decode[service.CreateExchangeOrderResult](t, w)
	assert.False(t, again.Created)
	assert.Equal(t, res.Order.ID, again.Order.ID)

	w = f.do(http.MethodGet, "/api/orders/"+res.Order.ID+"/chain", customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	chain := decode[struct {
		Orders []domain.Order `json:"orders"`
	}](t, w)
	require.Len(t, chain.Orders, 2)
	assert.Equal(t, "order-a", chain.Orders[0].ID)

	w = f.do(http.MethodGet, "/api/ledger?root_order_id=order-a", customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	ledger := decode[struct {
		Entries []domain.LedgerEntry `json:"entries"`
	}](t, w)
	require.Len(t, ledger.Entries, 1)
	assert.Equal(t, 0, ledger.Entries[0].ExchangeChainLevel)

	w = f.do(http.MethodGet, "/api/exchanges/"+ex.ID+"/transitions", customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	transitions := decode[struct {
		Transitions []domain.ExchangeTransition `json:"transitions"`
	}](t, w)
	assert.Len(t, transitions.Transitions, 4)
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	customer := f.token("cust-1", RoleCustomer)
	admin := f.token("admin-1", RoleAdmin)

	w := f.do(http.MethodPost, "/api/exchanges", customer, validCreate())
	require.Equal(t, http.StatusCreated, w.Code)
	ex := decode[domain.Exchange](t, w)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		status int
		code   string
	}{
		{"unknown exchange", http.MethodGet, "/api/exchanges/nope", admin, nil, http.StatusNotFound, "NOT_FOUND"},
		{"second open exchange", http.MethodPost, "/api/exchanges", customer, validCreate(), http.StatusConflict, "DUPLICATE_REQUEST"},
		{"order before approval", http.MethodPost, "/api/admin/exchanges/" + ex.ID + "/exchange-order", admin, nil, http.StatusConflict, "INVALID_STATE_TRANSITION"},
		{"ledger without key", http.MethodGet, "/api/ledger", admin, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad status filter", http.MethodGet, "/api/exchanges?status=bogus", admin, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad limit", http.MethodGet, "/api/exchanges?limit=x", admin, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"reconcile unlinked", http.MethodPost, "/api/admin/exchanges/" + ex.ID + "/reconcile", admin, nil, http.StatusConflict, "INVALID_STATE_TRANSITION"},
		{"no token", http.MethodGet, "/api/exchanges", "", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bad token", http.MethodGet, "/api/exchanges", "garbage", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestCreateExchange_ValidationFields(t *testing.T) {
	f := newAPIFixture(t)
	customer := f.token("cust-1", RoleCustomer)

	req := validCreate()
	req.Quantity = 0
	req.OrderID = ""
	w := f.do(http.MethodPost, "/api/exchanges", customer, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "required", resp.Fields["OrderID"])
	assert.Equal(t, "required", resp.Fields["Quantity"])
}

func TestCreateExchange_CustomerScope(t *testing.T) {
	f := newAPIFixture(t)
	req := validCreate()
	req.CustomerID = "cust-2"

	w := f.do(http.MethodPost, "/api/exchanges", f.token("cust-1", RoleCustomer), req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req.CustomerID = ""
	w = f.do(http.MethodPost, "/api/exchanges", f.token("admin-1", RoleAdmin), req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req.CustomerID = "cust-1"
	w = f.do(http.MethodPost, "/api/exchanges", f.token("admin-1", RoleAdmin), req)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateExchange_IdempotencyHeader(t *testing.T) {
	f := newAPIFixture(t)
	customer := f.token("cust-1", RoleCustomer)

	first := f.do(http.MethodPost, "/api/exchanges", customer, validCreate(), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := f.do(http.MethodPost, "/api/exchanges", customer, validCreate(), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, second.Code)

	assert.Equal(t, decode[domain.Exchange](t, first).ID, decode[domain.Exchange](t, second).ID)
}

func TestCreateExchange_IdempotencyKeyReusedForOtherRequest(t *testing.T) {
	f := newAPIFixture(t)
	customer := f.token("cust-1", RoleCustomer)

	first := f.do(http.MethodPost, "/api/exchanges", customer, validCreate(), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code)

	other := validCreate()
	other.ExchangeProductID = "P1"
	w := f.do(http.MethodPost, "/api/exchanges", customer, other, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_REQUEST", decode[ErrorResponse](t, w).Code)
}

func TestListExchanges_EchoesEffectiveLimit(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.token("admin-1", RoleAdmin)

	tests := []struct {
		query string
		want  string
	}{
		{"?limit=500", `{"exchanges":[],"limit":200,"offset":0}`},
		{"", `{"exchanges":[],"limit":50,"offset":0}`},
		{"?limit=10&offset=5", `{"exchanges":[],"limit":10,"offset":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := f.do(http.MethodGet, "/api/exchanges"+tt.query, admin, nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}

	w := f.do(http.MethodGet, "/api/admin/exchanges/reconciliation?limit=1000", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"exchanges":[],"limit":200}`, w.Body.String())
}

func TestOtherCustomersExchangeIsHidden(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodPost, "/api/exchanges", f.token("cust-1", RoleCustomer), validCreate())
	require.Equal(t, http.StatusCreated, w.Code)
	ex := decode[domain.Exchange](t, w)

	stranger := f.token("cust-9", RoleCustomer)
	w = f.do(http.MethodGet, "/api/exchanges/"+ex.ID, stranger, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/api/exchanges?customer_id=cust-1", stranger, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Exchanges []domain.Exchange `json:"exchanges"`
	}](t, w)
	assert.Empty(t, list.Exchanges)
}

func TestRejectOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodPost, "/api/exchanges", f.token("cust-1", RoleCustomer), validCreate())
	require.Equal(t, http.StatusCreated, w.Code)
	ex := decode[domain.Exchange](t, w)

	admin := f.token("admin-1", RoleAdmin)
	w = f.do(http.MethodPost, "/api/admin/exchanges/"+ex.ID+"/reject", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.ExchangeStatusRejected, decode[domain.Exchange](t, w).Status)

	w = f.do(http.MethodPost, "/api/admin/exchanges/"+ex.ID+"/approve", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor("PREREQ_NOT_LOADED"))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor("EXTERNAL_CAPABILITY_FAILURE"))
	assert.Equal(t, http.StatusConflict, statusFor("OUT_OF_STOCK"))
	assert.Equal(t, http.StatusInternalServerError, statusFor("DATABASE_ERROR"))
}
