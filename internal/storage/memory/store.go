package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type txKey struct{}

// Store хранит общее in-memory состояние каталога, клиентов, заказов и outbox.
// Записи сериализуются через txMu: либо одна единица работы целиком,
// либо одиночная операция вне транзакции. Чтения вне транзакции тоже ждут txMu,
// поэтому незакоммиченные изменения наружу не видны.
type Store struct {
	txMu sync.Mutex

	mu        sync.RWMutex
	customers map[string]domain.Customer
	products  map[string]domain.Product
	orders    map[string]domain.Order
	outbox    map[string]outboxRecord
	outboxSeq int64
}

// NewStore создаёт пустое in-memory хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		customers: make(map[string]domain.Customer),
		products:  make(map[string]domain.Product),
		orders:    make(map[string]domain.Order),
		outbox:    make(map[string]outboxRecord),
	}
}

type snapshot struct {
	customers map[string]domain.Customer
	products  map[string]domain.Product
	orders    map[string]domain.Order
	outbox    map[string]outboxRecord
	outboxSeq int64
}

// RunInTx выполняет fn эксклюзивно; при ошибке состояние восстанавливается из снимка.
// Вложенный вызов с контекстом уже открытой транзакции просто выполняет fn.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			err = fmt.Errorf("memory transaction panicked: %v", p)
			return
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, s))
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// write выполняет мутацию под блокировкой данных; вне транзакции дополнительно берёт txMu.
func (s *Store) write(ctx context.Context, fn func() error) error {
	if !s.inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// rlock берёт mu на чтение и возвращает функцию освобождения.
// Вне транзакции сначала дожидается завершения текущей единицы работы.
func (s *Store) rlock(ctx context.Context) func() {
	outside := !s.inTx(ctx)
	if outside {
		s.txMu.Lock()
	}
	s.mu.RLock()
	return func() {
		s.mu.RUnlock()
		if outside {
			s.txMu.Unlock()
		}
	}
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		customers: make(map[string]domain.Customer, len(s.customers)),
		products:  make(map[string]domain.Product, len(s.products)),
		orders:    make(map[string]domain.Order, len(s.orders)),
		outbox:    make(map[string]outboxRecord, len(s.outbox)),
		outboxSeq: s.outboxSeq,
	}
	for k, v := range s.customers {
		snap.customers[k] = v
	}
	for k, v := range s.products {
		snap.products[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.outbox {
		snap.outbox[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.customers = snap.customers
	s.products = snap.products
	s.orders = snap.orders
	s.outbox = snap.outbox
	s.outboxSeq = snap.outboxSeq
}

var _ domain.UnitOfWork = (*Store)(nil)
