package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// Коды ошибок в теле ответа.
const (
	CodeInvalidJSON           = "invalid_json"
	CodeValidation            = "validation_failed"
	CodeCustomerNotFound      = "customer_not_found"
	CodeProductNotFound       = "product_not_found"
	CodeOrderNotFound         = "order_not_found"
	CodeInsufficientStock     = "insufficient_stock"
	CodeEmailInUse            = "email_in_use"
	CodeProductNameInUse      = "product_name_in_use"
	CodeReservationFailed     = "inventory_reservation_failed"
	CodeIdempotencyInProgress = "idempotency_in_progress"
	CodeIdempotencyKeyReused  = "idempotency_key_reused"
	CodeInternal              = "internal"
)

// ErrorResponse описывает тело ответа с ошибкой.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Message     string   `json:"message,omitempty"`
	ProductIDs  []string `json:"product_ids,omitempty"`
	ProductName string   `json:"product_name,omitempty"`
	OrderID     string   `json:"order_id,omitempty"`
}

// errorResponse переводит ошибку сервисов в HTTP-статус и тело ответа.
func errorResponse(err error) (int, ErrorResponse) {
	var (
		notFound    *domain.ProductNotFoundError
		stock       *domain.InsufficientStockError
		reservation *domain.ReservationError
	)

	switch {
	case errors.As(err, &reservation):
		return http.StatusInternalServerError, ErrorResponse{
			Error:   CodeReservationFailed,
			Message: domain.ErrInventoryReservationFailed.Error(),
			OrderID: reservation.OrderID,
		}
	case domain.IsValidationError(err):
		return http.StatusBadRequest, ErrorResponse{Error: CodeValidation, Message: err.Error()}
	case errors.As(err, &notFound):
		return http.StatusBadRequest, ErrorResponse{
			Error:      CodeProductNotFound,
			Message:    domain.ErrProductNotFound.Error(),
			ProductIDs: notFound.IDs,
		}
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, ErrorResponse{Error: CodeProductNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrCustomerNotFound):
		return http.StatusNotFound, ErrorResponse{Error: CodeCustomerNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, ErrorResponse{Error: CodeOrderNotFound, Message: err.Error()}
	case errors.As(err, &stock):
		return http.StatusConflict, ErrorResponse{
			Error:       CodeInsufficientStock,
			Message:     stock.ProductName + " is out of stock",
			ProductName: stock.ProductName,
		}
	case errors.Is(err, domain.ErrEmailInUse):
		return http.StatusConflict, ErrorResponse{Error: CodeEmailInUse, Message: err.Error()}
	case errors.Is(err, domain.ErrProductNameInUse):
		return http.StatusConflict, ErrorResponse{Error: CodeProductNameInUse, Message: err.Error()}
	case errors.Is(err, idempotency.ErrRequestInProgress):
		return http.StatusConflict, ErrorResponse{Error: CodeIdempotencyInProgress, Message: err.Error()}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusConflict, ErrorResponse{Error: CodeIdempotencyKeyReused, Message: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: CodeInternal, Message: "internal server error"}
	}
}

type responder struct {
	logger *log.Entry
}

// fail пишет ответ с ошибкой и возвращает его статус и тело.
func (rs responder) fail(w http.ResponseWriter, r *http.Request, err error) (int, []byte) {
	status, payload := errorResponse(err)
	if status >= http.StatusInternalServerError {
		rs.logger.WithError(err).WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("request failed")
	}
	return writeJSON(w, status, payload)
}

// writeJSON сериализует v и возвращает фактически отправленные статус и тело.
func writeJSON(w http.ResponseWriter, status int, v any) (int, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal","message":"failed to encode response"}`)
	}
	writeRaw(w, status, body)
	return status, body
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

const maxBodyBytes = 1 << 20
