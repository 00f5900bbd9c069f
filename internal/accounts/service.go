package accounts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/audit"
	"github.com/angelmondragon/canteen-backend/internal/balance"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
)

type unitRunner interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context, w uow.Work) error) (uow.Report, error)
}

type TopUpInput struct {
	AdminID     uuid.UUID
	UserRef     string
	AmountCents int64
	Note        string
}

type WithdrawInput struct {
	AdminID       uuid.UUID
	UserRef       string
	AmountCents   int64
	Note          string
	AllowNegative bool
}

// AccountResult is the user after the movement plus its ledger entry.
type AccountResult struct {
	User        *models.User        `json:"user"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Warnings    []uow.Warning       `json:"warnings,omitempty"`
}

type ServiceParams struct {
	Units    unitRunner
	Balances *balance.Ledger
	Audit    audit.Recorder
	Logger   *logger.Logger
}

// Service tops up and withdraws prepaid balances on behalf of an administrator.
type Service struct {
	units    unitRunner
	balances *balance.Ledger
	audit    audit.Recorder
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Units == nil {
		return nil, fmt.Errorf("unit of work runner required")
	}
	if params.Balances == nil {
		return nil, fmt.Errorf("balance ledger required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	return &Service{
		units:    params.Units,
		balances: params.Balances,
		audit:    params.Audit,
		logg:     params.Logger,
	}, nil
}

func (s *Service) TopUp(ctx context.Context, input TopUpInput) (*AccountResult, error) {
	if err := validateMovement(input.AdminID, input.AmountCents); err != nil {
		return nil, err
	}

	result := &AccountResult{}
	report, err := s.units.Do(ctx, "balance_topup", func(ctx context.Context, w uow.Work) error {
		user, err := ResolveUser(ctx, w.DB(), input.UserRef)
		if err != nil {
			return err
		}
		movement, err := s.balances.Credit(ctx, w, balance.CreditInput{
			UserID:      user.ID,
			AmountCents: input.AmountCents,
			Type:        enums.TransactionTypeTopUp,
			ActorID:     &input.AdminID,
			Note:        input.Note,
		})
		if err != nil {
			return err
		}
		user.BalanceCents = movement.After
		result.User = user
		result.Transaction = movement.Transaction

		s.record(ctx, w, enums.AuditActionBalanceTopUp, input.AdminID, user.ID, movement, input.Note)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Warnings = report.Warnings
	s.logMovement(ctx, "balance topped up", result)
	return result, nil
}

// Withdraw removes money from a balance as an adjustment entry.
func (s *Service) Withdraw(ctx context.Context, input WithdrawInput) (*AccountResult, error) {
	if err := validateMovement(input.AdminID, input.AmountCents); err != nil {
		return nil, err
	}

	result := &AccountResult{}
	report, err := s.units.Do(ctx, "balance_withdraw", func(ctx context.Context, w uow.Work) error {
		user, err := ResolveUser(ctx, w.DB(), input.UserRef)
		if err != nil {
			return err
		}
		movement, err := s.balances.Debit(ctx, w, balance.DebitInput{
			UserID:        user.ID,
			AmountCents:   input.AmountCents,
			AllowNegative: input.AllowNegative,
			Type:          enums.TransactionTypeAdjustment,
			ActorID:       &input.AdminID,
			Note:          input.Note,
		})
		if err != nil {
			return err
		}
		user.BalanceCents = movement.After
		result.User = user
		result.Transaction = movement.Transaction

		s.record(ctx, w, enums.AuditActionBalanceWithdraw, input.AdminID, user.ID, movement, input.Note)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Warnings = report.Warnings
	s.logMovement(ctx, "balance withdrawn", result)
	return result, nil
}

func (s *Service) logMovement(ctx context.Context, msg string, result *AccountResult) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithUserID(ctx, result.User.ID.String())
	ctx = s.logg.WithField(ctx, "balance_cents", result.User.BalanceCents)
	s.logg.Info(ctx, msg)
}

func (s *Service) record(ctx context.Context, w uow.Work, action enums.AuditAction, adminID, userID uuid.UUID, movement *balance.Movement, note string) {
	w.Annotate(ctx, "audit", func(db *gorm.DB) error {
		payload := map[string]any{
			"balance_before": movement.Before,
			"balance_after":  movement.After,
			"amount_cents":   movement.After - movement.Before,
		}
		if note != "" {
			payload["note"] = note
		}
		if movement.Transaction != nil {
			payload["transaction_id"] = movement.Transaction.ID.String()
		}
		return s.audit.Record(ctx, db, audit.Entry{
			ActorID:    &adminID,
			Action:     action,
			TargetType: enums.AuditTargetUser,
			TargetID:   userID,
			Payload:    payload,
		})
	})
}

func validateMovement(adminID uuid.UUID, amountCents int64) error {
	if adminID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "admin id required")
	}
	if amountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	return nil
}
