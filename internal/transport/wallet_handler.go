package transport

import (
	"net/http"

	"storefront-be/internal/utils"
	"storefront-be/internal/wallet"
)

type WalletHandler struct {
	svc wallet.Service
}

func NewWalletHandler(svc wallet.Service) *WalletHandler {
	return &WalletHandler{svc: svc}
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := utils.ParsePagination(q.Get("page"), q.Get("limit"))

	wl, err := h.svc.GetWallet(r.Context(), page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}
