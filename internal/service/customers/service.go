// Package customers ведёт справочник покупателей.
package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service регистрирует клиентов и отдаёт их по идентификатору.
type Service struct {
	repo   domain.CustomerRepository
	logger *log.Entry
}

// NewService создаёт сервис клиентов.
func NewService(repo domain.CustomerRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "customers")
	}
	return &Service{repo: repo, logger: logger}
}

// Create регистрирует клиента. Email приводится к нижнему регистру и должен быть свободен.
func (s *Service) Create(ctx context.Context, name, email string) (domain.Customer, error) {
	customer := domain.Customer{
		Name:  strings.TrimSpace(name),
		Email: domain.NormalizeEmail(email),
	}
	if err := customer.Validate(); err != nil {
		return domain.Customer{}, err
	}

	if _, err := s.repo.FindByEmail(ctx, customer.Email); err == nil {
		return domain.Customer{}, domain.ErrEmailInUse
	} else if !errors.Is(err, domain.ErrCustomerNotFound) {
		return domain.Customer{}, fmt.Errorf("find customer by email: %w", err)
	}

	created, err := s.repo.Create(ctx, customer)
	if err != nil {
		if errors.Is(err, domain.ErrEmailInUse) {
			return domain.Customer{}, err
		}
		return domain.Customer{}, fmt.Errorf("create customer: %w", err)
	}

	s.logger.WithField("customer_id", created.ID).Info("customer registered")
	return created, nil
}

// Get возвращает клиента или domain.ErrCustomerNotFound.
func (s *Service) Get(ctx context.Context, id string) (domain.Customer, error) {
	return s.repo.FindByID(ctx, id)
}
