package balance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/ledger"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
	"github.com/angelmondragon/canteen-backend/pkg/outbox/payloads"
)

const (
	StepLedgerEntry  = "ledger_entry"
	StepBalanceEvent = "balance_event"
	stepBalance      = "balance"
)

// DebitInput describes money leaving a user's balance. AmountCents is positive.
type DebitInput struct {
	UserID        uuid.UUID
	AmountCents   int64
	AllowNegative bool
	Type          enums.TransactionType
	OrderID       *uuid.UUID
	ActorID       *uuid.UUID
	Note          string
}

// CreditInput describes money returned to a user's balance. AmountCents is positive.
type CreditInput struct {
	UserID      uuid.UUID
	AmountCents int64
	Type        enums.TransactionType
	OrderID     *uuid.UUID
	ActorID     *uuid.UUID
	Note        string
}

// Movement is the observed effect of one debit or credit. Transaction is nil
// when the ledger entry could not be written on the fallback path.
type Movement struct {
	Before      int64
	After       int64
	Transaction *models.Transaction
}

// Shortfall is the detail payload of an insufficient balance error.
type Shortfall struct {
	UserID    uuid.UUID `json:"user_id"`
	Required  int64     `json:"required_cents"`
	Available int64     `json:"available_cents"`
}

type LedgerParams struct {
	DB      *gorm.DB
	Repo    Repository
	Entries ledger.Service
	Events  outbox.Emitter
}

// Ledger moves user balances and records every movement as a transaction.
type Ledger struct {
	repo    Repository
	entries ledger.Service
	events  outbox.Emitter
}

func NewLedger(params LedgerParams) (*Ledger, error) {
	if params.Entries == nil {
		return nil, errors.New("ledger entry service required")
	}
	repo := params.Repo
	if repo == nil {
		if params.DB == nil {
			return nil, errors.New("database handle required")
		}
		repo = NewRepository(params.DB)
	}
	return &Ledger{repo: repo, entries: params.Entries, events: params.Events}, nil
}

// Debit subtracts the amount and writes a ledger entry with a negative amount.
func (l *Ledger) Debit(ctx context.Context, w uow.Work, input DebitInput) (*Movement, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Type == "" {
		input.Type = enums.TransactionTypeOrder
	}

	var (
		before, after int64
		err           error
	)
	if w.Transactional() {
		before, after, err = l.debitLocked(ctx, w, input)
	} else {
		before, after, err = l.debitConditional(ctx, w, input)
	}
	if err != nil {
		return nil, err
	}

	movement := &Movement{Before: before, After: after}
	err = l.settle(ctx, w, movement, ledger.RecordEntryInput{
		Type:          input.Type,
		AmountCents:   -input.AmountCents,
		BalanceBefore: &before,
		BalanceAfter:  &after,
		UserID:        &input.UserID,
		OrderID:       input.OrderID,
		ActorID:       input.ActorID,
		Note:          input.Note,
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

func (l *Ledger) debitLocked(ctx context.Context, w uow.Work, input DebitInput) (int64, int64, error) {
	user, err := l.repo.WithTx(w.Lock()).FindUser(ctx, input.UserID)
	if err != nil {
		return 0, 0, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return 0, 0, userNotFound(input.UserID)
	}
	before := user.BalanceCents
	after := before - input.AmountCents
	if after < 0 && !input.AllowNegative {
		return 0, 0, InsufficientBalance(input.UserID, input.AmountCents, before)
	}
	if err := l.repo.WithTx(w.DB()).SetBalance(ctx, input.UserID, after); err != nil {
		return 0, 0, fmt.Errorf("update balance: %w", err)
	}
	return before, after, nil
}

// debitConditional lets the database check the balance in the same statement
// that moves it and report the balance it produced.
func (l *Ledger) debitConditional(ctx context.Context, w uow.Work, input DebitInput) (int64, int64, error) {
	repo := l.repo.WithTx(w.DB())
	after, ok, err := repo.Decrement(ctx, input.UserID, input.AmountCents, !input.AllowNegative)
	if err != nil {
		return 0, 0, fmt.Errorf("update balance: %w", err)
	}
	if !ok {
		user, err := repo.FindUser(ctx, input.UserID)
		if err != nil {
			return 0, 0, fmt.Errorf("load user: %w", err)
		}
		if user == nil {
			return 0, 0, userNotFound(input.UserID)
		}
		return 0, 0, InsufficientBalance(input.UserID, input.AmountCents, user.BalanceCents)
	}

	userID, amount := input.UserID, input.AmountCents
	w.Compensate(stepBalance, func(ctx context.Context) error {
		_, _, err := l.repo.WithTx(w.DB()).Increment(ctx, userID, amount)
		return err
	})
	return after + input.AmountCents, after, nil
}

// Credit adds the amount and writes a ledger entry with a positive amount.
func (l *Ledger) Credit(ctx context.Context, w uow.Work, input CreditInput) (*Movement, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Type == "" {
		input.Type = enums.TransactionTypeTopUp
	}

	var before, after int64
	if w.Transactional() {
		user, err := l.repo.WithTx(w.Lock()).FindUser(ctx, input.UserID)
		if err != nil {
			return nil, fmt.Errorf("load user: %w", err)
		}
		if user == nil {
			return nil, userNotFound(input.UserID)
		}
		before = user.BalanceCents
		after = before + input.AmountCents
		if err := l.repo.WithTx(w.DB()).SetBalance(ctx, input.UserID, after); err != nil {
			return nil, fmt.Errorf("update balance: %w", err)
		}
	} else {
		var (
			ok  bool
			err error
		)
		after, ok, err = l.repo.WithTx(w.DB()).Increment(ctx, input.UserID, input.AmountCents)
		if err != nil {
			return nil, fmt.Errorf("update balance: %w", err)
		}
		if !ok {
			return nil, userNotFound(input.UserID)
		}
		userID, amount := input.UserID, input.AmountCents
		w.Compensate(stepBalance, func(ctx context.Context) error {
			_, _, err := l.repo.WithTx(w.DB()).Decrement(ctx, userID, amount, false)
			return err
		})
		before = after - input.AmountCents
	}

	movement := &Movement{Before: before, After: after}
	err := l.settle(ctx, w, movement, ledger.RecordEntryInput{
		Type:          input.Type,
		AmountCents:   input.AmountCents,
		BalanceBefore: &before,
		BalanceAfter:  &after,
		UserID:        &input.UserID,
		OrderID:       input.OrderID,
		ActorID:       input.ActorID,
		Note:          input.Note,
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// settle writes the ledger entry and the balance_changed event for a movement.
func (l *Ledger) settle(ctx context.Context, w uow.Work, movement *Movement, entry ledger.RecordEntryInput) error {
	err := w.Settle(ctx, StepLedgerEntry, func(db *gorm.DB) error {
		tx, err := l.entries.WithTx(db).RecordEntry(ctx, entry)
		if err != nil {
			return err
		}
		movement.Transaction = tx
		return nil
	})
	if err != nil {
		return err
	}
	if movement.Transaction == nil || l.events == nil {
		return nil
	}

	tx := movement.Transaction
	w.Annotate(ctx, StepBalanceEvent, func(db *gorm.DB) error {
		var actor *outbox.ActorRef
		if entry.ActorID != nil {
			actor = &outbox.ActorRef{UserID: *entry.ActorID}
		}
		return l.events.Emit(ctx, db, outbox.DomainEvent{
			EventType:     enums.EventBalanceChanged,
			AggregateType: enums.AggregateUser,
			AggregateID:   *entry.UserID,
			Actor:         actor,
			Data: payloads.BalanceChangedEvent{
				UserID:        *entry.UserID,
				TransactionID: tx.ID,
				Type:          tx.Type,
				AmountCents:   tx.AmountCents,
				BalanceBefore: movement.Before,
				BalanceAfter:  movement.After,
			},
		})
	})
	return nil
}

func userNotFound(userID uuid.UUID) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeUserNotFound, "user not found").
		WithDetails(map[string]any{"user_id": userID.String()})
}

// InsufficientBalance builds the error returned when a balance cannot cover required.
func InsufficientBalance(userID uuid.UUID, required, available int64) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
		WithDetails(Shortfall{UserID: userID, Required: required, Available: available})
}
