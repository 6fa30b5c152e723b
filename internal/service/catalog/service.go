// Package catalog управляет товарами и их остатками.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service создаёт товары и перезаписывает остатки.
type Service struct {
	repo   domain.ProductRepository
	logger *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(repo domain.ProductRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	return &Service{repo: repo, logger: logger}
}

// Create добавляет товар. Название должно быть уникальным, цена округляется до копеек.
func (s *Service) Create(ctx context.Context, name string, price decimal.Decimal, quantity int) (domain.Product, error) {
	product := domain.Product{
		Name:     strings.TrimSpace(name),
		Price:    price.Round(domain.PriceScale),
		Quantity: quantity,
	}
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	if _, err := s.repo.FindByName(ctx, product.Name); err == nil {
		return domain.Product{}, domain.ErrProductNameInUse
	} else if !errors.Is(err, domain.ErrProductNotFound) {
		return domain.Product{}, fmt.Errorf("find product by name: %w", err)
	}

	created, err := s.repo.Create(ctx, product)
	if err != nil {
		if domain.IsDomainError(err) {
			return domain.Product{}, err
		}
		return domain.Product{}, fmt.Errorf("create product: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"product_id": created.ID,
		"quantity":   created.Quantity,
	}).Info("product created")
	return created, nil
}

// Get возвращает товар или domain.ErrProductNotFound.
func (s *Service) Get(ctx context.Context, id string) (domain.Product, error) {
	return s.repo.FindByID(ctx, id)
}

// Restock перезаписывает остатки; неизвестные товары пропускаются.
func (s *Service) Restock(ctx context.Context, updates []domain.QuantityUpdate) ([]domain.Product, error) {
	for _, update := range updates {
		if strings.TrimSpace(update.ProductID) == "" {
			return nil, domain.ErrProductIDRequired
		}
		if update.Quantity < 0 {
			return nil, domain.ErrProductQuantityInvalid
		}
	}
	if len(updates) == 0 {
		return []domain.Product{}, nil
	}

	updated, err := s.repo.UpdateQuantity(ctx, updates)
	if err != nil {
		if domain.IsDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("update quantities: %w", err)
	}
	if skipped := len(updates) - len(updated); skipped > 0 {
		s.logger.WithField("skipped", skipped).Debug("restock skipped unknown products")
	}
	return updated, nil
}
