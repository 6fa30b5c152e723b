package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type customerHandler struct {
	responder
	customers CustomerService
	orders    OrderService
}

func (h *customerHandler) Register(r chi.Router) {
	r.Post("/customers", h.create)
	r.Get("/customers/{id}", h.get)
	r.Get("/customers/{id}/orders", h.listOrders)
}

func (h *customerHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalidJSON, Message: err.Error()})
		return
	}

	customer, err := h.customers.Create(r.Context(), req.Name, req.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerResponse(customer))
}

func (h *customerHandler) get(w http.ResponseWriter, r *http.Request) {
	customer, err := h.customers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerResponse(customer))
}

// listOrders отдаёт заказы клиента, новые первыми; limit=0 снимает ограничение.
func (h *customerHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   CodeValidation,
				Message: "limit must be a non-negative integer",
			})
			return
		}
		limit = parsed
	}

	orders, err := h.orders.ListByCustomer(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]OrderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, out)
}
