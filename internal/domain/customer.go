package domain

import (
	"net/mail"
	"strings"
	"time"
)

// Customer — покупатель магазина. Email уникален.
type Customer struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail приводит email к виду, в котором он хранится и сравнивается.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate проверяет обязательные поля клиента.
func (c Customer) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrCustomerNameRequired
	}
	addr, err := mail.ParseAddress(c.Email)
	if err != nil || addr.Address != c.Email {
		return ErrCustomerEmailInvalid
	}
	return nil
}
