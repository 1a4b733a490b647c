package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OrderUseCaseInterface define a interface para o use case
type OrderUseCaseInterface interface {
	CreateCart(ctx context.Context, id Identity) (*Cart, error)
	GetCart(ctx context.Context, id Identity) (*Cart, error)
	AddCartItem(ctx context.Context, id Identity, productID string, quantity int) (*Cart, error)
	RemoveCartItem(ctx context.Context, id Identity, itemID string) error
	ClearCart(ctx context.Context, id Identity, cartID string) error
	PreviewOrder(ctx context.Context, id Identity, req OrderRequest) (*OrderPreview, error)
	CreateOrder(ctx context.Context, id Identity, req OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, id Identity, orderID string) (*Order, error)
	ListMyOrders(ctx context.Context, id Identity) ([]Order, error)
	ListAllOrders(ctx context.Context, id Identity) ([]Order, error)
}

// AddCartItemRequest representa a requisição para adicionar um item ao carrinho
type AddCartItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

// OrderRequestBody representa a requisição de prévia e criação de pedido
type OrderRequestBody struct {
	BillingAddressID  string `json:"billingAddressId"`
	ShippingAddressID string `json:"shippingAddressId"`
	PaymentMethodID   string `json:"paymentMethodId"`
	IdempotencyKey    string `json:"idempotencyKey"`
}

// OrderHandler contém os handlers HTTP
type OrderHandler struct {
	useCase OrderUseCaseInterface
	tracer  trace.Tracer
}

// NewOrderHandler cria uma nova instância de OrderHandler
func NewOrderHandler(useCase OrderUseCaseInterface, tracer trace.Tracer) *OrderHandler {
	return &OrderHandler{
		useCase: useCase,
		tracer:  tracer,
	}
}

func (h *OrderHandler) Register(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/", authenticated())
	api.POST("/cart", h.CreateCart)
	api.GET("/cart", h.GetCart)
	api.POST("/cart/cartItem", h.AddCartItem)
	api.DELETE("/cart/cartItem/:id", h.RemoveCartItem)
	api.DELETE("/cart/cartItem", h.ClearCart)

	api.POST("/previewOrder", h.PreviewOrder)
	api.POST("/order", h.CreateOrder)
	api.GET("/order/myorders", h.ListMyOrders)
	api.GET("/order/:id", h.GetOrder)
	api.GET("/orders", h.ListAllOrders)
}

func (h *OrderHandler) CreateCart(c *gin.Context) {
	cart, err := h.useCase.CreateCart(c.Request.Context(), identityFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"cartId": cart.ID})
}

func (h *OrderHandler) GetCart(c *gin.Context) {
	cart, err := h.useCase.GetCart(c.Request.Context(), identityFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *OrderHandler) AddCartItem(c *gin.Context) {
	var req AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cart, err := h.useCase.AddCartItem(c.Request.Context(), identityFrom(c), req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *OrderHandler) RemoveCartItem(c *gin.Context) {
	if err := h.useCase.RemoveCartItem(c.Request.Context(), identityFrom(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OrderHandler) ClearCart(c *gin.Context) {
	if err := h.useCase.ClearCart(c.Request.Context(), identityFrom(c), c.Query("cartId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func bindOrderRequest(c *gin.Context) (OrderRequest, error) {
	var body OrderRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return OrderRequest{}, err
	}
	req := OrderRequest{
		BillingAddressID:  body.BillingAddressID,
		ShippingAddressID: body.ShippingAddressID,
		PaymentMethodID:   body.PaymentMethodID,
		IdempotencyKey:    body.IdempotencyKey,
	}
	if key := c.GetHeader(headerIdempotencyKey); key != "" {
		req.IdempotencyKey = key
	}
	return req, nil
}

func (h *OrderHandler) PreviewOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "preview_order")
	defer span.End()

	req, err := bindOrderRequest(c)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	preview, err := h.useCase.PreviewOrder(ctx, identityFrom(c), req)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}
	span.SetAttributes(attribute.String("total", preview.Total.String()))
	c.JSON(http.StatusOK, preview)
}

// CreateOrder executa a SAGA de criação de pedido
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_order_saga")
	defer span.End()

	req, err := bindOrderRequest(c)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	identity := identityFrom(c)
	span.SetAttributes(attribute.String("user_id", identity.UserID))

	order, err := h.useCase.CreateOrder(ctx, identity, req)
	if order != nil {
		span.SetAttributes(
			attribute.String("order_id", order.ID),
			attribute.String("order_status", order.Status.String()),
		)
	}
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.useCase.GetOrder(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) ListMyOrders(c *gin.Context) {
	orders, err := h.useCase.ListMyOrders(c.Request.Context(), identityFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) ListAllOrders(c *gin.Context) {
	orders, err := h.useCase.ListAllOrders(c.Request.Context(), identityFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// HealthCheck verifica a saúde do serviço
func (h *OrderHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "orders-service",
	})
}

// writeError maps domain errors to HTTP answers. Collaborator payloads never
// reach the client; only the failing step and offending products do.
func writeError(c *gin.Context, err error) {
	var sagaErr *SagaError
	if errors.As(err, &sagaErr) {
		status := http.StatusConflict
		switch sagaErr.Step {
		case StepPayment:
			status = http.StatusPaymentRequired
		case StepConfirmation:
			if !errors.Is(err, ErrConflict) {
				status = http.StatusInternalServerError
			}
		}
		body := gin.H{
			"error":   stepMessage(sagaErr.Step),
			"step":    sagaErr.Step,
			"orderId": sagaErr.OrderID,
			"status":  sagaErr.Status,
		}
		if len(sagaErr.Products) > 0 {
			body["products"] = sagaErr.Products
		}
		c.JSON(status, body)
		return
	}

	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, ErrInvalidArgument):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrUnauthenticated):
		status, msg = http.StatusUnauthorized, ErrUnauthenticated.Error()
	case errors.Is(err, ErrForbidden):
		status, msg = http.StatusForbidden, ErrForbidden.Error()
	case errors.Is(err, ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, ErrConflict):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, ErrTimeout):
		status, msg = http.StatusServiceUnavailable, "a downstream service is unavailable"
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("❌ Unhandled error")
	}
	c.JSON(status, gin.H{"error": msg})
}

func stepMessage(step SagaStep) string {
	switch step {
	case StepPricing:
		return "one or more products could not be priced or are unavailable"
	case StepAddress:
		return "billing or shipping address could not be resolved"
	case StepPayment:
		return "payment failed"
	case StepConfirmation:
		return "order could not be confirmed"
	default:
		return "order failed"
	}
}
