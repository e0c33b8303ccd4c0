package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront-be/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) MarkPaymentCompleted(ctx context.Context, orderID, gatewayPaymentID string) (*order.Result, error) {
	args := m.Called(ctx, orderID, gatewayPaymentID)
	res, _ := args.Get(0).(*order.Result)
	return res, args.Error(1)
}

func (m *MockOrderService) MarkPaymentFailed(ctx context.Context, orderID, reason string) (*order.Result, error) {
	args := m.Called(ctx, orderID, reason)
	res, _ := args.Get(0).(*order.Result)
	return res, args.Error(1)
}

func callback(status, failure string) []byte {
	p := Payload{Event: "payment.capture"}
	p.Data.PaymentID = "pay-1"
	p.Data.ReferenceID = "ORD-1"
	p.Data.Status = status
	p.Data.FailureCode = failure
	b, _ := json.Marshal(p)
	return b
}

func send(h http.Handler, body []byte, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandler_ServeHTTP(t *testing.T) {
	const token = "secret-token"

	t.Run("Success_Paid", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("MarkPaymentCompleted", mock.Anything, "ORD-1", "pay-1").
			Return(&order.Result{Success: true, OrderID: "ORD-1", OrderStatus: order.StatusPending}, nil)

		w := send(NewHandler(svc, token), callback("SUCCEEDED", ""), token)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"order_id":"ORD-1"`)
		svc.AssertExpectations(t)
	})

	t.Run("Duplicate_Paid", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("MarkPaymentCompleted", mock.Anything, "ORD-1", "pay-1").
			Return(&order.Result{Success: true, OrderID: "ORD-1", AlreadyProcessed: true}, nil)

		w := send(NewHandler(svc, token), callback("PAID", ""), token)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"already_processed":true`)
	})

	t.Run("Failed_UsesFailureCode", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("MarkPaymentFailed", mock.Anything, "ORD-1", "CARD_DECLINED").
			Return(&order.Result{Success: true, OrderID: "ORD-1"}, nil)

		w := send(NewHandler(svc, token), callback("FAILED", "CARD_DECLINED"), token)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("Expired_DefaultReason", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("MarkPaymentFailed", mock.Anything, "ORD-1", "expired").
			Return(&order.Result{Success: true, OrderID: "ORD-1"}, nil)

		w := send(NewHandler(svc, token), callback("EXPIRED", ""), token)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("UnknownStatus_Ignored", func(t *testing.T) {
		svc := new(MockOrderService)

		w := send(NewHandler(svc, token), callback("PENDING", ""), token)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertNotCalled(t, "MarkPaymentCompleted", mock.Anything, mock.Anything, mock.Anything)
		svc.AssertNotCalled(t, "MarkPaymentFailed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		svc := new(MockOrderService)

		w := send(NewHandler(svc, token), callback("SUCCEEDED", ""), "wrong")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		svc.AssertNotCalled(t, "MarkPaymentCompleted", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("NoTokenConfigured_SkipsCheck", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("MarkPaymentCompleted", mock.Anything, "ORD-1", "pay-1").
			Return(&order.Result{Success: true, OrderID: "ORD-1"}, nil)

		w := send(NewHandler(svc, ""), callback("SUCCEEDED", ""), "")

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		w := send(NewHandler(new(MockOrderService), token), []byte("{bad"), token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("MissingReference", func(t *testing.T) {
		w := send(NewHandler(new(MockOrderService), token), []byte(`{"data":{"status":"SUCCEEDED"}}`), token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	errCases := []struct {
		name string
		err  error
		code int
	}{
		{"OrderNotFound", order.ErrOrderNotFound, http.StatusNotFound},
		{"InvalidTransition", fmt.Errorf("%w: order is cancelled", order.ErrInvalidTransition), http.StatusConflict},
		{"DependencyFailure", fmt.Errorf("%w: wallet", order.ErrDependencyFailure), http.StatusServiceUnavailable},
		{"Unexpected", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range errCases {
		t.Run("Error_"+tc.name, func(t *testing.T) {
			svc := new(MockOrderService)
			svc.On("MarkPaymentCompleted", mock.Anything, "ORD-1", "pay-1").Return(nil, tc.err)

			w := send(NewHandler(svc, token), callback("SUCCEEDED", ""), token)

			assert.Equal(t, tc.code, w.Code)
		})
	}
}
