package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// MockOrderUseCase simula o use case de pedidos
type MockOrderUseCase struct {
	mock.Mock
}

func (m *MockOrderUseCase) CreateCart(ctx context.Context, id Identity) (*Cart, error) {
	args := m.Called(ctx, id)
	cart, _ := args.Get(0).(*Cart)
	return cart, args.Error(1)
}

func (m *MockOrderUseCase) GetCart(ctx context.Context, id Identity) (*Cart, error) {
	args := m.Called(ctx, id)
	cart, _ := args.Get(0).(*Cart)
	return cart, args.Error(1)
}

func (m *MockOrderUseCase) AddCartItem(ctx context.Context, id Identity, productID string, quantity int) (*Cart, error) {
	args := m.Called(ctx, id, productID, quantity)
	cart, _ := args.Get(0).(*Cart)
	return cart, args.Error(1)
}

func (m *MockOrderUseCase) RemoveCartItem(ctx context.Context, id Identity, itemID string) error {
	return m.Called(ctx, id, itemID).Error(0)
}

func (m *MockOrderUseCase) ClearCart(ctx context.Context, id Identity, cartID string) error {
	return m.Called(ctx, id, cartID).Error(0)
}

func (m *MockOrderUseCase) PreviewOrder(ctx context.Context, id Identity, req OrderRequest) (*OrderPreview, error) {
	args := m.Called(ctx, id, req)
	preview, _ := args.Get(0).(*OrderPreview)
	return preview, args.Error(1)
}

func (m *MockOrderUseCase) CreateOrder(ctx context.Context, id Identity, req OrderRequest) (*Order, error) {
	args := m.Called(ctx, id, req)
	order, _ := args.Get(0).(*Order)
	return order, args.Error(1)
}

func (m *MockOrderUseCase) GetOrder(ctx context.Context, id Identity, orderID string) (*Order, error) {
	args := m.Called(ctx, id, orderID)
	order, _ := args.Get(0).(*Order)
	return order, args.Error(1)
}

func (m *MockOrderUseCase) ListMyOrders(ctx context.Context, id Identity) ([]Order, error) {
	args := m.Called(ctx, id)
	orders, _ := args.Get(0).([]Order)
	return orders, args.Error(1)
}

func (m *MockOrderUseCase) ListAllOrders(ctx context.Context, id Identity) ([]Order, error) {
	args := m.Called(ctx, id)
	orders, _ := args.Get(0).([]Order)
	return orders, args.Error(1)
}

func setupRouter(uc OrderUseCaseInterface) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(requestID())
	NewOrderHandler(uc, tracenoop.NewTracerProvider().Tracer("test")).Register(r)
	return r
}

func doRequest(r http.Handler, method, path, userID string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

var validOrderBody = OrderRequestBody{
	BillingAddressID:  "addr-bill",
	ShippingAddressID: "addr-ship",
	PaymentMethodID:   "pm-visa",
}

func TestHandler_HealthNeedsNoIdentity(t *testing.T) {
	r := setupRouter(new(MockOrderUseCase))

	w := doRequest(r, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestHandler_MissingIdentityIs401(t *testing.T) {
	uc := new(MockOrderUseCase)
	r := setupRouter(uc)

	for _, path := range []string{"/cart", "/order/myorders", "/orders"} {
		w := doRequest(r, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	uc.AssertNotCalled(t, "GetCart", mock.Anything, mock.Anything)
}

func TestHandler_CreateCart(t *testing.T) {
	// Arrange
	uc := new(MockOrderUseCase)
	uc.On("CreateCart", mock.Anything, Identity{UserID: "user-1"}).Return(&Cart{ID: "cart-1"}, nil)
	r := setupRouter(uc)

	// Act
	w := doRequest(r, http.MethodPost, "/cart", "user-1", nil)

	// Assert
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "cart-1", decodeBody(t, w)["cartId"])
	uc.AssertExpectations(t)
}

func TestHandler_AddCartItemValidatesBody(t *testing.T) {
	uc := new(MockOrderUseCase)
	r := setupRouter(uc)

	w := doRequest(r, http.MethodPost, "/cart/cartItem", "user-1", gin.H{"quantity": 1})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	uc.AssertNotCalled(t, "AddCartItem", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_AddCartItemInvalidQuantity(t *testing.T) {
	uc := new(MockOrderUseCase)
	uc.On("AddCartItem", mock.Anything, Identity{UserID: "user-1"}, "P1", 0).
		Return(nil, fmt.Errorf("quantity must be a positive integer: %w", ErrInvalidArgument))
	r := setupRouter(uc)

	w := doRequest(r, http.MethodPost, "/cart/cartItem", "user-1", AddCartItemRequest{ProductID: "P1"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_RemoveAndClear(t *testing.T) {
	uc := new(MockOrderUseCase)
	id := Identity{UserID: "user-1"}
	uc.On("RemoveCartItem", mock.Anything, id, "item-1").Return(nil)
	uc.On("RemoveCartItem", mock.Anything, id, "item-2").Return(fmt.Errorf("cart item item-2: %w", ErrNotFound))
	uc.On("ClearCart", mock.Anything, id, "cart-1").Return(nil)
	r := setupRouter(uc)

	assert.Equal(t, http.StatusNoContent, doRequest(r, http.MethodDelete, "/cart/cartItem/item-1", "user-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(r, http.MethodDelete, "/cart/cartItem/item-2", "user-1", nil).Code)
	assert.Equal(t, http.StatusNoContent, doRequest(r, http.MethodDelete, "/cart/cartItem?cartId=cart-1", "user-1", nil).Code)
	uc.AssertExpectations(t)
}

func TestHandler_CreateOrderConfirmed(t *testing.T) {
	// Arrange
	uc := new(MockOrderUseCase)
	order := NewOrder("order-1", "user-1", "cart-1", "pm-visa", "USD", "key-h")
	order.Status = OrderStatusConfirmed
	uc.On("CreateOrder", mock.Anything, Identity{UserID: "user-1"}, mock.MatchedBy(func(req OrderRequest) bool {
		return req.IdempotencyKey == "key-h" && req.PaymentMethodID == "pm-visa"
	})).Return(order, nil)
	r := setupRouter(uc)

	// Act
	w := doRequest(r, http.MethodPost, "/order", "user-1", validOrderBody, headerIdempotencyKey, "key-h")

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "order-1", body["orderId"])
	assert.Equal(t, "CONFIRMED", body["status"])
	assert.Contains(t, body, "totalPrice")
	uc.AssertExpectations(t)
}

func TestHandler_CreateOrderFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantStep string
	}{
		{
			name:     "payment declined",
			err:      &SagaError{Step: StepPayment, OrderID: "order-1", Status: OrderStatusCancelled, Err: ErrDeclined},
			wantCode: http.StatusPaymentRequired,
			wantStep: "payment",
		},
		{
			name:     "pricing",
			err:      &SagaError{Step: StepPricing, OrderID: "order-1", Status: OrderStatusCancelled, Products: []string{"P1"}},
			wantCode: http.StatusConflict,
			wantStep: "pricing",
		},
		{
			name:     "address",
			err:      &SagaError{Step: StepAddress, OrderID: "order-1", Status: OrderStatusCancelled, Err: ErrNotFound},
			wantCode: http.StatusConflict,
			wantStep: "address",
		},
		{
			name:     "cart closed during confirmation",
			err:      &SagaError{Step: StepConfirmation, OrderID: "order-1", Status: OrderStatusCancelled, Err: ErrConflict},
			wantCode: http.StatusConflict,
			wantStep: "confirmation",
		},
		{
			name:     "confirmation write failed",
			err:      &SagaError{Step: StepConfirmation, OrderID: "order-1", Status: OrderStatusCancelled, Err: fmt.Errorf("disk full")},
			wantCode: http.StatusInternalServerError,
			wantStep: "confirmation",
		},
		{
			name:     "request in progress",
			err:      fmt.Errorf("order in progress: %w", ErrConflict),
			wantCode: http.StatusConflict,
		},
		{
			name:     "empty cart",
			err:      fmt.Errorf("cart is empty: %w", ErrInvalidArgument),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "collaborator down",
			err:      fmt.Errorf("catalog: %w", ErrUpstreamUnavailable),
			wantCode: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := new(MockOrderUseCase)
			uc.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)
			r := setupRouter(uc)

			w := doRequest(r, http.MethodPost, "/order", "user-1", validOrderBody)

			assert.Equal(t, tt.wantCode, w.Code)
			body := decodeBody(t, w)
			assert.NotEmpty(t, body["error"])
			if tt.wantStep != "" {
				assert.Equal(t, tt.wantStep, body["step"])
				assert.Equal(t, "order-1", body["orderId"])
			}
		})
	}
}

func TestHandler_PricingFailureListsProducts(t *testing.T) {
	uc := new(MockOrderUseCase)
	uc.On("PreviewOrder", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &SagaError{Step: StepPricing, Products: []string{"P1", "P2"}})
	r := setupRouter(uc)

	w := doRequest(r, http.MethodPost, "/previewOrder", "user-1", validOrderBody)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []any{"P1", "P2"}, decodeBody(t, w)["products"])
}

func TestHandler_MyOrdersIsNotAnOrderID(t *testing.T) {
	uc := new(MockOrderUseCase)
	uc.On("ListMyOrders", mock.Anything, Identity{UserID: "user-1"}).Return([]Order{}, nil)
	r := setupRouter(uc)

	w := doRequest(r, http.MethodGet, "/order/myorders", "user-1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	uc.AssertNotCalled(t, "GetOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_ListAllOrdersRoles(t *testing.T) {
	uc := new(MockOrderUseCase)
	uc.On("ListAllOrders", mock.Anything, Identity{UserID: "user-1"}).Return(nil, fmt.Errorf("admin only: %w", ErrForbidden))
	uc.On("ListAllOrders", mock.Anything, Identity{UserID: "root", Roles: []string{RoleAdmin}}).Return([]Order{}, nil)
	r := setupRouter(uc)

	assert.Equal(t, http.StatusForbidden, doRequest(r, http.MethodGet, "/orders", "user-1", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/orders", "root", nil, headerUserRoles, "admin").Code)
	uc.AssertExpectations(t)
}

func TestHandler_UnknownErrorIs500(t *testing.T) {
	uc := new(MockOrderUseCase)
	uc.On("GetOrder", mock.Anything, mock.Anything, "order-1").Return(nil, fmt.Errorf("pool closed"))
	r := setupRouter(uc)

	w := doRequest(r, http.MethodGet, "/order/order-1", "user-1", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decodeBody(t, w)["error"])
}
