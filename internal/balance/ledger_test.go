package balance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/ledger"
	"github.com/angelmondragon/canteen-backend/internal/testdb"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
)

type failingEntries struct{}

func (failingEntries) WithTx(*gorm.DB) ledger.Repository { return failingEntries{} }

func (failingEntries) Create(context.Context, *models.Transaction) error {
	return errors.New("ledger unavailable")
}

func (failingEntries) ListByOrderID(context.Context, uuid.UUID) ([]models.Transaction, error) {
	return nil, nil
}

func (failingEntries) ListByUserID(context.Context, uuid.UUID, int) ([]models.Transaction, error) {
	return nil, nil
}

type fixture struct {
	conn    *gorm.DB
	ledger  *Ledger
	manager *uow.Manager
}

func newFixture(t *testing.T, name string, mode uow.Mode, entryRepo ledger.Repository) fixture {
	t.Helper()
	client := testdb.Client(t, name)
	if entryRepo == nil {
		entryRepo = ledger.NewRepository(client.DB())
	}
	entries, err := ledger.NewService(entryRepo)
	require.NoError(t, err)
	l, err := NewLedger(LedgerParams{
		DB:      client.DB(),
		Entries: entries,
		Events:  outbox.NewService(outbox.NewRepository(client.DB()), nil),
	})
	require.NoError(t, err)
	manager, err := uow.NewManager(uow.ManagerParams{Runner: client, Mode: mode})
	require.NoError(t, err)
	return fixture{conn: client.DB(), ledger: l, manager: manager}
}

func (f fixture) debit(input DebitInput) (*Movement, uow.Report, error) {
	var movement *Movement
	report, err := f.manager.Do(context.Background(), "debit", func(ctx context.Context, w uow.Work) error {
		var err error
		movement, err = f.ledger.Debit(ctx, w, input)
		return err
	})
	return movement, report, err
}

func (f fixture) credit(input CreditInput) (*Movement, uow.Report, error) {
	var movement *Movement
	report, err := f.manager.Do(context.Background(), "credit", func(ctx context.Context, w uow.Work) error {
		var err error
		movement, err = f.ledger.Credit(ctx, w, input)
		return err
	})
	return movement, report, err
}

var modes = []uow.Mode{uow.ModeTransactional, uow.ModeBestEffort}

func TestDebitRecordsSignedEntry(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, "balance_debit", mode, nil)
			user := testdb.MustCreateUser(t, f.conn, "S-100", 1000)
			orderID := uuid.New()

			movement, report, err := f.debit(DebitInput{UserID: user.ID, AmountCents: 450, OrderID: &orderID})
			require.NoError(t, err)
			assert.Empty(t, report.Warnings)
			assert.Equal(t, int64(1000), movement.Before)
			assert.Equal(t, int64(550), movement.After)
			require.NotNil(t, movement.Transaction)
			assert.Equal(t, enums.TransactionTypeOrder, movement.Transaction.Type)
			assert.Equal(t, int64(-450), movement.Transaction.AmountCents)
			assert.Equal(t, orderID, *movement.Transaction.OrderID)

			assert.Equal(t, int64(550), testdb.Balance(t, f.conn, user.ID))
			assert.Equal(t, int64(1), testdb.Count(t, f.conn, &models.Transaction{}))
			assert.Equal(t, int64(1), testdb.Count(t, f.conn, &models.OutboxEvent{}))
		})
	}
}

func TestDebitRejectsInsufficientBalance(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, "balance_short", mode, nil)
			user := testdb.MustCreateUser(t, f.conn, "S-101", 100)

			_, _, err := f.debit(DebitInput{UserID: user.ID, AmountCents: 450})
			require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientBalance))
			shortfall, ok := pkgerrors.As(err).Details().(Shortfall)
			require.True(t, ok)
			assert.Equal(t, int64(450), shortfall.Required)
			assert.Equal(t, int64(100), shortfall.Available)

			assert.Equal(t, int64(100), testdb.Balance(t, f.conn, user.ID))
			assert.Zero(t, testdb.Count(t, f.conn, &models.Transaction{}))
		})
	}
}

func TestDebitAllowNegative(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, "balance_negative", mode, nil)
			user := testdb.MustCreateUser(t, f.conn, "S-102", 100)

			movement, _, err := f.debit(DebitInput{
				UserID:        user.ID,
				AmountCents:   450,
				AllowNegative: true,
				Type:          enums.TransactionTypeAdjustment,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(-350), movement.After)
			assert.Equal(t, enums.TransactionTypeAdjustment, movement.Transaction.Type)
			assert.Equal(t, int64(-350), testdb.Balance(t, f.conn, user.ID))
		})
	}
}

func TestDebitUnknownUser(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, "balance_unknown", mode, nil)
			_, _, err := f.debit(DebitInput{UserID: uuid.New(), AmountCents: 10})
			assert.True(t, pkgerrors.Is(err, pkgerrors.CodeUserNotFound))
		})
	}
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t, "balance_amount", uow.ModeTransactional, nil)
	user := testdb.MustCreateUser(t, f.conn, "S-103", 100)
	_, _, err := f.debit(DebitInput{UserID: user.ID, AmountCents: 0})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestCreditAddsToBalance(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, "balance_credit", mode, nil)
			user := testdb.MustCreateUser(t, f.conn, "S-104", 250)
			admin := testdb.MustCreateAdmin(t, f.conn)

			movement, _, err := f.credit(CreditInput{
				UserID:      user.ID,
				AmountCents: 500,
				Type:        enums.TransactionTypeRefund,
				ActorID:     &admin.ID,
				Note:        "wrong order",
			})
			require.NoError(t, err)
			assert.Equal(t, int64(250), movement.Before)
			assert.Equal(t, int64(750), movement.After)
			assert.Equal(t, int64(500), movement.Transaction.AmountCents)
			assert.Equal(t, int64(750), testdb.Balance(t, f.conn, user.ID))
		})
	}
}

func TestLedgerFailureAbortsTransactionalDebit(t *testing.T) {
	f := newFixture(t, "balance_ledger_tx", uow.ModeTransactional, failingEntries{})
	user := testdb.MustCreateUser(t, f.conn, "S-105", 1000)

	_, _, err := f.debit(DebitInput{UserID: user.ID, AmountCents: 300})
	require.Error(t, err)
	assert.Contains(t, err.Error(), StepLedgerEntry)
	assert.Equal(t, int64(1000), testdb.Balance(t, f.conn, user.ID))
}

func TestLedgerFailureIsWarningOnFallbackPath(t *testing.T) {
	f := newFixture(t, "balance_ledger_be", uow.ModeBestEffort, failingEntries{})
	user := testdb.MustCreateUser(t, f.conn, "S-106", 1000)

	movement, report, err := f.debit(DebitInput{UserID: user.ID, AmountCents: 300})
	require.NoError(t, err)
	assert.Nil(t, movement.Transaction)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, StepLedgerEntry, report.Warnings[0].Step)
	assert.Equal(t, int64(700), testdb.Balance(t, f.conn, user.ID))
	assert.Zero(t, testdb.Count(t, f.conn, &models.OutboxEvent{}))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, "balance_race", mode, nil)
			user := testdb.MustCreateUser(t, f.conn, "S-107", 1000)

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				movements []*Movement
			)
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					movement, _, err := f.debit(DebitInput{UserID: user.ID, AmountCents: 300})
					if err == nil {
						mu.Lock()
						movements = append(movements, movement)
						mu.Unlock()
						return
					}
					if !pkgerrors.Is(err, pkgerrors.CodeInsufficientBalance) {
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			require.Len(t, movements, 3)
			afters := make([]int64, 0, len(movements))
			for _, movement := range movements {
				assert.Equal(t, movement.After+300, movement.Before)
				afters = append(afters, movement.After)
			}
			assert.ElementsMatch(t, []int64{700, 400, 100}, afters)
			assert.Equal(t, int64(100), testdb.Balance(t, f.conn, user.ID))
			assert.Equal(t, int64(3), testdb.Count(t, f.conn, &models.Transaction{}))
		})
	}
}

func TestSlowBestEffortMovementsReportTheirOwnBalances(t *testing.T) {
	f := newFixture(t, "balance_snapshots", uow.ModeBestEffort, nil)
	user := testdb.MustCreateUser(t, f.conn, "S-108", 100000)
	testdb.Delay(t, f.conn, "update", "users", 5*time.Millisecond)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		movements []*Movement
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				movement *Movement
				err      error
			)
			if i%4 == 0 {
				movement, _, err = f.credit(CreditInput{UserID: user.ID, AmountCents: 100})
			} else {
				movement, _, err = f.debit(DebitInput{UserID: user.ID, AmountCents: 100})
			}
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			movements = append(movements, movement)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, movements, workers)
	seen := make(map[int64]bool, workers)
	for _, movement := range movements {
		require.NotNil(t, movement.Transaction)
		assert.Equal(t, movement.Before+movement.Transaction.AmountCents, movement.After)
		assert.False(t, seen[movement.After], "balance %d reported twice", movement.After)
		seen[movement.After] = true
	}
	// 15 debits and 5 credits of 100
	assert.Equal(t, int64(99000), testdb.Balance(t, f.conn, user.ID))
}
