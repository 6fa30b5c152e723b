package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultIdempotencyTTL задаёт, сколько хранится ответ на запрос с idempotency-key.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что запрос завершён успешно и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что обработка завершилась ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит состояние обработки запроса с idempotency-key.
type IdempotencyRecord struct {
	Key          string            `json:"key"`
	RequestHash  string            `json:"request_hash"`
	ResponseBody []byte            `json:"response_body,omitempty"`
	HTTPStatus   int               `json:"http_status,omitempty"`
	Status       IdempotencyStatus `json:"status"`
	TTLAt        time.Time         `json:"ttl_at"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// HashRequest строит отпечаток запроса: sha256 от "route:body".
func HashRequest(route string, body []byte) string {
	payload := make([]byte, 0, len(route)+1+len(body))
	payload = append(payload, route...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
