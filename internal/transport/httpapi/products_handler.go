package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productHandler struct {
	responder
	catalog CatalogService
}

func (h *productHandler) Register(r chi.Router) {
	r.Post("/products", h.create)
	r.Put("/products/quantities", h.updateQuantities)
	r.Get("/products/{id}", h.get)
}

func (h *productHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalidJSON, Message: err.Error()})
		return
	}

	product, err := h.catalog.Create(r.Context(), req.Name, req.Price, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

func (h *productHandler) get(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

// updateQuantities перезаписывает остатки; неизвестные товары пропускаются.
func (h *productHandler) updateQuantities(w http.ResponseWriter, r *http.Request) {
	var req []QuantityUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalidJSON, Message: err.Error()})
		return
	}

	updates := make([]domain.QuantityUpdate, 0, len(req))
	for _, u := range req {
		updates = append(updates, domain.QuantityUpdate{ProductID: u.ID, Quantity: u.Quantity})
	}

	products, err := h.catalog.Restock(r.Context(), updates)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponses(products))
}
