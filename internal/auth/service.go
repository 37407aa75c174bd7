package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/authmatrix/internal/shared"
)

// Repository is the account storage the identity provider needs.
type Repository interface {
	InsertAccount(ctx context.Context, account Account) (Account, error)
	FindAccountByEmail(ctx context.Context, email string) (Account, error)
	DeleteAccount(ctx context.Context, id int64) error
}

// Credentials is a sign-up or sign-in request.
type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
}

// Service wraps authentication business rules.
type Service struct {
	repo      Repository
	validator *shared.Validator
	cost      int
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validator: shared.NewValidator(), cost: bcrypt.DefaultCost}
}

// WithCost overrides the bcrypt cost, mainly so tests stay fast.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// SignUp creates an active account. Emails are stored lowercased.
func (s *Service) SignUp(ctx context.Context, email, password string) (Account, error) {
	creds := Credentials{Email: normaliseEmail(email), Password: password}
	if err := s.validator.Struct(creds); err != nil {
		return Account{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}
	acct, err := s.repo.InsertAccount(ctx, Account{Email: creds.Email, PasswordHash: string(hash), IsActive: true})
	if err != nil {
		return Account{}, fmt.Errorf("sign up %s: %w", creds.Email, err)
	}
	return acct, nil
}

// Authenticate validates email/password credentials. Unknown, inactive and mismatched
// accounts all report ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	acct, err := s.repo.FindAccountByEmail(ctx, normaliseEmail(email))
	if errors.Is(err, shared.ErrNotFound) {
		return Account{}, shared.ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, fmt.Errorf("authenticate: %w", err)
	}
	if !acct.IsActive {
		return Account{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return Account{}, shared.ErrInvalidCredentials
	}
	return acct, nil
}

// DeleteAccount removes an account and, through the store, its profile.
func (s *Service) DeleteAccount(ctx context.Context, id int64) error {
	if err := s.repo.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("delete account %d: %w", id, err)
	}
	return nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
