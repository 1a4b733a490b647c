package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	uc := NewPaymentUseCase(NewMemoryChargeRepository())
	NewPaymentHandler(uc, tracenoop.NewTracerProvider().Tracer("test")).Register(r)
	return r
}

func doRequest(r *gin.Engine, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPaymentHandler_Capture(t *testing.T) {
	body := map[string]any{"amount": "27.25", "currency": "USD", "paymentMethodId": "pm-visa"}

	t.Run("header key wins and replays answer the same charge", func(t *testing.T) {
		r := setupRouter()

		first := doRequest(r, http.MethodPost, "/api/payments/charges", body, "Idempotency-Key", "order-1-1")
		second := doRequest(r, http.MethodPost, "/api/payments/charges", body, "Idempotency-Key", "order-1-1")

		require.Equal(t, http.StatusCreated, first.Code)
		require.Equal(t, http.StatusCreated, second.Code)
		a, b := decodeBody(t, first), decodeBody(t, second)
		assert.Equal(t, a["chargeId"], b["chargeId"])
		assert.Equal(t, "CAPTURED", a["status"])
		assert.Equal(t, "order-1-1", a["idempotencyKey"])
	})

	t.Run("status mapping", func(t *testing.T) {
		r := setupRouter()
		_ = doRequest(r, http.MethodPost, "/api/payments/charges", body, "Idempotency-Key", "order-2-1")

		cases := []struct {
			name string
			body map[string]any
			key  string
			want int
		}{
			{"declined", map[string]any{"amount": "1.00", "currency": "USD", "paymentMethodId": "decline-card"}, "k-1", http.StatusPaymentRequired},
			{"zero amount", map[string]any{"amount": "0", "currency": "USD", "paymentMethodId": "pm-visa"}, "k-2", http.StatusBadRequest},
			{"missing key", body, "", http.StatusBadRequest},
			{"key reused", map[string]any{"amount": "99.00", "currency": "USD", "paymentMethodId": "pm-visa"}, "order-2-1", http.StatusConflict},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				w := doRequest(r, http.MethodPost, "/api/payments/charges", tc.body, "Idempotency-Key", tc.key)

				assert.Equal(t, tc.want, w.Code)
			})
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		r := setupRouter()

		w := doRequest(r, http.MethodPost, "/api/payments/charges", map[string]any{"amount": []int{1}})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPaymentHandler_Refund(t *testing.T) {
	r := setupRouter()
	created := doRequest(r, http.MethodPost, "/api/payments/charges",
		map[string]any{"amount": "8.00", "currency": "USD", "paymentMethodId": "pm-visa"},
		"Idempotency-Key", "order-9-1")
	require.Equal(t, http.StatusCreated, created.Code)
	chargeID := decodeBody(t, created)["chargeId"].(string)

	t.Run("refund without body refunds everything", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/api/payments/charges/"+chargeID+"/refund", nil)

		require.Equal(t, http.StatusOK, w.Code)
		got := decodeBody(t, w)
		assert.Equal(t, "REFUNDED", got["status"])
		assert.Equal(t, "8", got["refundedAmount"])
	})

	t.Run("get reflects the refund", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/api/payments/charges/"+chargeID, nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "REFUNDED", decodeBody(t, w)["status"])
	})

	t.Run("unknown charge", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/api/payments/charges/ch_missing/refund", map[string]any{"amount": "1.00"})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPaymentHandler_HealthCheck(t *testing.T) {
	w := doRequest(setupRouter(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeBody(t, w)["status"])
}
