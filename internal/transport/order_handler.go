package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront-be/internal/order"

	"github.com/go-chi/chi/v5"
)

type OrderHandler struct {
	svc order.Service
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// RegisterRoutes mounts the customer order routes.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.PlaceOrder)
	r.Get("/", h.ListOrders)
	r.Get("/{id}", h.GetOrder)
	r.Post("/{id}/cancel", h.CancelOrder)
	r.Post("/{id}/items/{itemID}/cancel", h.CancelItem)
	r.Post("/{id}/returns", h.RequestReturn)
}

// RegisterAdminRoutes mounts the routes only admins may call.
func (h *OrderHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/{id}/returns/approve", h.ApproveReturn)
	r.Post("/{id}/returns/reject", h.RejectReturn)
	r.Patch("/{id}/status", h.AdminTransition)
	r.Patch("/{id}/items", h.AdminBulkUpdate)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type returnRequest struct {
	ItemIDs    []string `json:"item_ids"`
	WholeOrder bool     `json:"whole_order"`
	Reason     string   `json:"reason"`
	Note       string   `json:"note"`
}

func (req returnRequest) target() order.Target {
	return order.Target{ItemIDs: req.ItemIDs, WholeOrder: req.WholeOrder}
}

type statusRequest struct {
	Status order.Status `json:"status"`
}

type bulkUpdateRequest struct {
	Updates []order.ItemUpdate `json:"updates"`
}

func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var in order.PlaceOrderInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	o, err := h.svc.PlaceOrder(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	orders, total, err := h.svc.ListOrders(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	writeJSON(w, http.StatusOK, pageResponse[*order.Order]{
		Data:  orders,
		Total: total,
		Page:  f.Page,
		Limit: f.Limit,
	})
}

func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	h.respond(w, r)(h.svc.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason))
}

func (h *OrderHandler) CancelItem(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	h.respond(w, r)(h.svc.CancelItem(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), req.Reason))
}

func (h *OrderHandler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	h.respond(w, r)(h.svc.RequestReturn(r.Context(), chi.URLParam(r, "id"), req.target(), req.Reason))
}

func (h *OrderHandler) ApproveReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	h.respond(w, r)(h.svc.ApproveReturn(r.Context(), chi.URLParam(r, "id"), req.target(), req.Note))
}

func (h *OrderHandler) RejectReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	h.respond(w, r)(h.svc.RejectReturn(r.Context(), chi.URLParam(r, "id"), req.target(), req.Reason))
}

func (h *OrderHandler) AdminTransition(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "status is required")
		return
	}
	to := order.Status(strings.ToUpper(string(req.Status)))
	h.respond(w, r)(h.svc.AdminTransition(r.Context(), chi.URLParam(r, "id"), to))
}

func (h *OrderHandler) AdminBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateRequest
	if err := decodeJSON(r, &req); err != nil || len(req.Updates) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "updates are required")
		return
	}
	h.respond(w, r)(h.svc.AdminBulkUpdate(r.Context(), chi.URLParam(r, "id"), req.Updates))
}

// respond writes a lifecycle Result. A replayed or no-op command is still a 200.
func (h *OrderHandler) respond(w http.ResponseWriter, r *http.Request) func(*order.Result, error) {
	return func(res *order.Result, err error) {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

const dateLayout = "2006-01-02"

func parseListFilter(r *http.Request) (order.ListFilter, error) {
	q := r.URL.Query()
	f := order.ListFilter{
		Status:  order.Status(strings.ToUpper(q.Get("status"))),
		Search:  strings.TrimSpace(q.Get("search")),
		SortBy:  order.SortField(q.Get("sort_by")),
		SortDir: q.Get("sort_dir"),
		Limit:   20,
		Page:    1,
	}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil || n <= 0 {
			return f, errInvalidParam("limit")
		}
		f.Limit = int32(min(n, 100))
	}
	if s := q.Get("page"); s != "" {
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil || n <= 0 {
			return f, errInvalidParam("page")
		}
		f.Page = int32(n)
	}

	// ignored by the service for non-admin callers
	if s := q.Get("user_id"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return f, errInvalidParam("user_id")
		}
		f.UserID = uint(n)
	}

	if s := q.Get("date_from"); s != "" {
		t, err := parseDate(s, false)
		if err != nil {
			return f, errInvalidParam("date_from")
		}
		f.DateFrom = &t
	}
	if s := q.Get("date_to"); s != "" {
		t, err := parseDate(s, true)
		if err != nil {
			return f, errInvalidParam("date_to")
		}
		f.DateTo = &t
	}

	return f, nil
}

// parseDate accepts a calendar day or an RFC 3339 timestamp. A bare day used
// as an upper bound covers the whole day.
func parseDate(s string, upper bool) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		if upper {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

type errInvalidParam string

func (e errInvalidParam) Error() string { return "invalid query parameter: " + string(e) }
