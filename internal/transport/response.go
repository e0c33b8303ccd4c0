package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"storefront-be/internal/coupon"
	"storefront-be/internal/logger"
	"storefront-be/internal/order"
	"storefront-be/internal/product"
	"storefront-be/internal/utils"
	"storefront-be/internal/wallet"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type pageResponse[T any] struct {
	Data  []T   `json:"data"`
	Total int64 `json:"total"`
	Page  int32 `json:"page"`
	Limit int32 `json:"limit"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	utils.WriteJSON(w, status, v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

// decodeJSON reads one JSON document from the body. An empty body leaves
// dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// classify maps a service error to an HTTP status and a stable error code.
func classify(r *http.Request, err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrItemNotFound):
		return http.StatusNotFound, "not_found"

	case errors.Is(err, order.ErrUnauthorized),
		errors.Is(err, wallet.ErrUnauthorized):
		if id, ok := utils.GetUserIDFromContext(r.Context()); ok && id != 0 {
			return http.StatusForbidden, "forbidden"
		}
		return http.StatusUnauthorized, "unauthorized"

	case errors.Is(err, order.ErrVersionConflict),
		errors.Is(err, order.ErrRequestInProgress),
		errors.Is(err, order.ErrAlreadyProcessed):
		return http.StatusConflict, "conflict"

	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"

	case errors.Is(err, order.ErrDependencyFailure):
		return http.StatusBadGateway, "dependency_failure"

	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidPayment),
		errors.Is(err, order.ErrInvalidCouponUsage),
		errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, product.ErrProductInactive),
		errors.Is(err, product.ErrInsufficientStock),
		errors.Is(err, product.ErrInvalidQuantity),
		errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, wallet.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "validation_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(r, err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromCtx(r.Context()).Error("request failed",
			zap.String("layer", "transport"),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	writeError(w, status, code, msg)
}
