package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"storefront-be/internal/logger"
	"storefront-be/internal/order"

	"go.uber.org/zap"
)

const (
	TokenHeader  = "x-callback-token"
	maxBodyBytes = 64 << 10
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Payload is the gateway callback body. ReferenceID carries our order ID.
type Payload struct {
	Event string `json:"event"`
	Data  struct {
		PaymentID   string `json:"payment_id"`
		ReferenceID string `json:"reference_id"`
		Status      string `json:"status"`
		FailureCode string `json:"failure_code,omitempty"`
	} `json:"data"`
}

// PaymentUpdater is the part of the order service the gateway drives.
type PaymentUpdater interface {
	MarkPaymentCompleted(ctx context.Context, orderID, gatewayPaymentID string) (*order.Result, error)
	MarkPaymentFailed(ctx context.Context, orderID, reason string) (*order.Result, error)
}

type Handler struct {
	orders PaymentUpdater
	token  string
}

// NewHandler builds the payment callback handler. An empty token disables
// signature checks, which is only meant for local development.
func NewHandler(orders PaymentUpdater, token string) *Handler {
	return &Handler{orders: orders, token: token}
}

func (h *Handler) verify(r *http.Request) error {
	if h.token == "" {
		return nil
	}
	got := r.Header.Get(TokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context()).With(
		zap.String("layer", "webhook"),
		zap.String("method", "PaymentCallback"),
	)

	if err := h.verify(r); err != nil {
		log.Warn("rejected payment callback", zap.Error(err))
		reply(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		reply(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil || p.Data.ReferenceID == "" {
		reply(w, http.StatusBadRequest, "invalid payload")
		return
	}

	log = log.With(
		zap.String("order_id", p.Data.ReferenceID),
		zap.String("payment_id", p.Data.PaymentID),
		zap.String("status", p.Data.Status),
	)

	var res *order.Result
	switch strings.ToUpper(p.Data.Status) {
	case "SUCCEEDED", "PAID", "COMPLETED":
		res, err = h.orders.MarkPaymentCompleted(r.Context(), p.Data.ReferenceID, p.Data.PaymentID)
	case "FAILED", "EXPIRED":
		reason := p.Data.FailureCode
		if reason == "" {
			reason = strings.ToLower(p.Data.Status)
		}
		res, err = h.orders.MarkPaymentFailed(r.Context(), p.Data.ReferenceID, reason)
	default:
		log.Info("ignoring payment callback")
		reply(w, http.StatusOK, "ignored")
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			status = http.StatusNotFound
		case errors.Is(err, order.ErrInvalidTransition):
			status = http.StatusConflict
		case errors.Is(err, order.ErrDependencyFailure), errors.Is(err, order.ErrVersionConflict):
			status = http.StatusServiceUnavailable
		}
		log.Error("failed to apply payment callback", zap.Error(err))
		reply(w, status, err.Error())
		return
	}

	if res.AlreadyProcessed {
		log.Info("duplicate payment callback")
	} else {
		log.Info("payment callback applied", zap.String("order_status", string(res.OrderStatus)))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

func reply(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
