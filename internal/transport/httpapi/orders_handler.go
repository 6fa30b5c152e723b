package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	// HeaderIdempotencyKey несёт необязательный ключ идемпотентности POST /orders.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ взят из сохранённого.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	placeOrderRoute = "POST /orders"
)

type orderHandler struct {
	responder
	orders OrderService
	guard  *idempotency.Guard
}

func (h *orderHandler) Register(r chi.Router) {
	r.Post("/orders", h.place)
	r.Get("/orders/{id}", h.get)
}

// place оформляет заказ. С заголовком Idempotency-Key повтор того же запроса
// получает сохранённый ответ, а товар не списывается второй раз.
func (h *orderHandler) place(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalidJSON, Message: err.Error()})
		return
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	replay, err := h.guard.Begin(r.Context(), key, placeOrderRoute, body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if replay != nil {
		w.Header().Set(HeaderIdempotentReplay, "true")
		writeRaw(w, replay.HTTPStatus, replay.Body)
		return
	}

	status, response := h.placeOrder(w, r, body)
	h.guard.Complete(context.WithoutCancel(r.Context()), key, status, response)
}

func (h *orderHandler) placeOrder(w http.ResponseWriter, r *http.Request, body []byte) (int, []byte) {
	var req PlaceOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalidJSON, Message: err.Error()})
	}

	order, err := h.orders.PlaceOrder(r.Context(), req.CustomerID, req.lines())
	if err != nil {
		return h.fail(w, r, err)
	}
	return writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *orderHandler) get(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}
