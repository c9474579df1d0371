package config

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnauthorized signals the caller is not the current admin.
var ErrUnauthorized = errors.New("config: unauthorized")

// Store abstracts the repository for testability.
type Store interface {
	Insert(ctx context.Context, q Querier, adminID, tokenSymbol string) (Record, error)
	Load(ctx context.Context, q Querier) (Record, error)
	UpdateAdmin(ctx context.Context, q Querier, newAdminID string) error
	UpdateToken(ctx context.Context, q Querier, tokenSymbol string) error
}

// Service exposes initialization and admin management over the singleton.
type Service struct {
	q    Querier
	repo Store
}

func NewService(q Querier, repo Store) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{q: q, repo: repo}
}

// Initialize binds the admin identity and token symbol, exactly once.
func (s *Service) Initialize(ctx context.Context, adminID, tokenSymbol string) (Record, error) {
	if adminID == "" {
		return Record{}, fmt.Errorf("config: admin id required")
	}
	if tokenSymbol == "" {
		return Record{}, fmt.Errorf("config: token symbol required")
	}
	return s.repo.Insert(ctx, s.q, adminID, tokenSymbol)
}

// Get returns the current configuration.
func (s *Service) Get(ctx context.Context) (Record, error) {
	return s.repo.Load(ctx, s.q)
}

// TransferAdmin hands admin authority to a new identity. Only the current
// admin may do this.
func (s *Service) TransferAdmin(ctx context.Context, caller, newAdminID string) error {
	if newAdminID == "" {
		return fmt.Errorf("config: new admin id required")
	}
	rec, err := s.repo.Load(ctx, s.q)
	if err != nil {
		return err
	}
	if rec.AdminID != caller {
		return ErrUnauthorized
	}
	return s.repo.UpdateAdmin(ctx, s.q, newAdminID)
}

// SetToken updates the accepted token symbol. Only the current admin may do
// this; existing escrows keep the amounts they were created with.
func (s *Service) SetToken(ctx context.Context, caller, tokenSymbol string) error {
	if tokenSymbol == "" {
		return fmt.Errorf("config: token symbol required")
	}
	rec, err := s.repo.Load(ctx, s.q)
	if err != nil {
		return err
	}
	if rec.AdminID != caller {
		return ErrUnauthorized
	}
	return s.repo.UpdateToken(ctx, s.q, tokenSymbol)
}
