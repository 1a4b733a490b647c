package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const headerIdempotencyKey = "Idempotency-Key"

// PaymentUseCaseInterface define a interface para o use case
type PaymentUseCaseInterface interface {
	Capture(ctx context.Context, req ChargeRequest) (*Charge, error)
	Refund(ctx context.Context, chargeID string, amount decimal.Decimal) (*Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
}

// PaymentHandler contém os handlers HTTP para pagamentos
type PaymentHandler struct {
	useCase PaymentUseCaseInterface
	tracer  trace.Tracer
}

// NewPaymentHandler cria uma nova instância de PaymentHandler
func NewPaymentHandler(useCase PaymentUseCaseInterface, tracer trace.Tracer) *PaymentHandler {
	return &PaymentHandler{
		useCase: useCase,
		tracer:  tracer,
	}
}

func (h *PaymentHandler) Register(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)
	r.POST("/api/payments/charges", h.Capture)
	r.GET("/api/payments/charges/:id", h.GetCharge)
	r.POST("/api/payments/charges/:id/refund", h.Refund)
}

// Capture é o endpoint de captura de pagamento
func (h *PaymentHandler) Capture(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "capture_charge")
	defer span.End()

	var req ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if key := c.GetHeader(headerIdempotencyKey); key != "" {
		req.IdempotencyKey = key
	}
	span.SetAttributes(
		attribute.String("idempotency_key", req.IdempotencyKey),
		attribute.String("amount", req.Amount.String()),
	)

	charge, err := h.useCase.Capture(ctx, req)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, charge)
}

// Refund é o endpoint de estorno
func (h *PaymentHandler) Refund(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "refund_charge")
	defer span.End()

	var req RefundRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	span.SetAttributes(attribute.String("charge_id", c.Param("id")))

	charge, err := h.useCase.Refund(ctx, c.Param("id"), req.Amount)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, charge)
}

func (h *PaymentHandler) GetCharge(c *gin.Context) {
	charge, err := h.useCase.GetCharge(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, charge)
}

// HealthCheck é o endpoint de health check
func (h *PaymentHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidCharge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrDeclined):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment declined"})
	case errors.Is(err, ErrChargeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrIdempotencyMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("❌ Unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
