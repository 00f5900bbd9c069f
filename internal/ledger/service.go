package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

// Service appends and reads balance ledger entries. Entries are never
// updated or deleted.
type Service interface {
	WithTx(tx *gorm.DB) Service
	RecordEntry(ctx context.Context, input RecordEntryInput) (*models.Transaction, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error)
}

type service struct {
	repo Repository
}

// RecordEntryInput captures the immutable data a ledger entry requires.
// Debits carry a negative amount.
type RecordEntryInput struct {
	Type          enums.TransactionType
	AmountCents   int64
	BalanceBefore *int64
	BalanceAfter  *int64
	UserID        *uuid.UUID
	OrderID       *uuid.UUID
	ActorID       *uuid.UUID
	Note          string
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) RecordEntry(ctx context.Context, input RecordEntryInput) (*models.Transaction, error) {
	if err := validateEntry(input); err != nil {
		return nil, err
	}

	entry := &models.Transaction{
		Type:          input.Type,
		AmountCents:   input.AmountCents,
		BalanceBefore: input.BalanceBefore,
		BalanceAfter:  input.BalanceAfter,
		UserID:        input.UserID,
		OrderID:       input.OrderID,
		ActorID:       input.ActorID,
	}
	if note := strings.TrimSpace(input.Note); note != "" {
		entry.Note = &note
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func validateEntry(input RecordEntryInput) error {
	if !input.Type.IsValid() {
		return fmt.Errorf("invalid transaction type %q", input.Type)
	}
	if input.AmountCents == 0 {
		return fmt.Errorf("amount must be non-zero")
	}
	if input.Type == enums.TransactionTypeExternal {
		if input.UserID != nil || input.BalanceBefore != nil || input.BalanceAfter != nil {
			return fmt.Errorf("external entries carry no account movement")
		}
		return nil
	}
	if input.Type == enums.TransactionTypeReconciliation {
		return nil
	}
	if input.UserID == nil || *input.UserID == uuid.Nil {
		return fmt.Errorf("user id is required for %s entries", input.Type)
	}
	if input.BalanceBefore == nil || input.BalanceAfter == nil {
		return fmt.Errorf("balance snapshot is required for %s entries", input.Type)
	}
	if *input.BalanceAfter-*input.BalanceBefore != input.AmountCents {
		return fmt.Errorf("balance snapshot does not match amount")
	}
	return nil
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}
	return s.repo.ListByUserID(ctx, userID, limit)
}
