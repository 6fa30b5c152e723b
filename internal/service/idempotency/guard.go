package idempotency

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrRequestInProgress возвращается, пока запрос с тем же ключом ещё обрабатывается.
var ErrRequestInProgress = errors.New("request with the same idempotency key is already processing")

// Replay содержит сохранённый ответ на ранее обработанный запрос.
type Replay struct {
	HTTPStatus int
	Body       []byte
}

// Guard связывает ключ идемпотентности с результатом обработки запроса.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт срок хранения ответа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGuardClock подменяет источник времени (для тестов).
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, options ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    domain.DefaultIdempotencyTTL,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithField("component", "idempotency-guard"),
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// Begin регистрирует ключ для запроса route/body.
// Возвращает Replay, если ответ уже сохранён; ErrRequestInProgress, если запрос ещё выполняется;
// domain.ErrIdempotencyHashMismatch, если ключ использован с другим телом.
// Пустой ключ или nil Guard означают обработку без идемпотентности.
func (g *Guard) Begin(ctx context.Context, key, route string, body []byte) (*Replay, error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return nil, nil
	}

	hash := domain.HashRequest(route, body)
	record, err := g.repo.CreateProcessing(ctx, key, hash, g.now().Add(g.ttl))
	if err == nil {
		return nil, nil
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, domain.ErrIdempotencyHashMismatch
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			status := record.HTTPStatus
			if status == 0 {
				status = http.StatusOK
			}
			return &Replay{HTTPStatus: status, Body: record.ResponseBody}, nil
		case domain.IdempotencyStatusProcessing:
			return nil, ErrRequestInProgress
		default:
			return nil, errors.New("unknown idempotency record status")
		}
	default:
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return nil, err
	}
}

// Complete сохраняет ответ: статусы < 500 считаются окончательными и переигрываются,
// на 5xx ключ помечается failed с тем же ответом.
func (g *Guard) Complete(ctx context.Context, key string, httpStatus int, body []byte) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return
	}

	var err error
	if httpStatus >= http.StatusInternalServerError {
		err = g.repo.MarkFailed(ctx, key, body, httpStatus)
	} else {
		err = g.repo.MarkDone(ctx, key, body, httpStatus)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
