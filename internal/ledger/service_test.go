package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/testdb"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

type fakeRepository struct {
	createFn func(ctx context.Context, entry *models.Transaction) error
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, entry *models.Transaction) error {
	if f.createFn != nil {
		return f.createFn(ctx, entry)
	}
	return nil
}

func (f *fakeRepository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	return nil, nil
}

func (f *fakeRepository) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	return nil, nil
}

func int64Ptr(v int64) *int64 { return &v }

func TestService_RecordEntry(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	var created *models.Transaction
	repo.createFn = func(ctx context.Context, entry *models.Transaction) error {
		created = entry
		return nil
	}

	userID := uuid.New()
	orderID := uuid.New()
	got, err := svc.RecordEntry(context.Background(), RecordEntryInput{
		Type:          enums.TransactionTypeOrder,
		AmountCents:   -450,
		BalanceBefore: int64Ptr(1000),
		BalanceAfter:  int64Ptr(550),
		UserID:        &userID,
		OrderID:       &orderID,
		Note:          "  lunch  ",
	})
	if err != nil {
		t.Fatalf("RecordEntry error: %v", err)
	}
	if got != created {
		t.Fatalf("expected returned entry to be the persisted one")
	}
	if got.Note == nil || *got.Note != "lunch" {
		t.Fatalf("expected trimmed note, got %v", got.Note)
	}
	if *got.OrderID != orderID || got.AmountCents != -450 {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestService_RecordEntryValidation(t *testing.T) {
	svc, err := NewService(&fakeRepository{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	userID := uuid.New()

	cases := map[string]RecordEntryInput{
		"invalid type":       {Type: "bogus", AmountCents: 1},
		"zero amount":        {Type: enums.TransactionTypeTopUp, UserID: &userID, BalanceBefore: int64Ptr(0), BalanceAfter: int64Ptr(0)},
		"missing user":       {Type: enums.TransactionTypeTopUp, AmountCents: 100, BalanceBefore: int64Ptr(0), BalanceAfter: int64Ptr(100)},
		"missing snapshot":   {Type: enums.TransactionTypeRefund, AmountCents: 100, UserID: &userID},
		"snapshot mismatch":  {Type: enums.TransactionTypeTopUp, AmountCents: 100, UserID: &userID, BalanceBefore: int64Ptr(0), BalanceAfter: int64Ptr(90)},
		"external with user": {Type: enums.TransactionTypeExternal, AmountCents: 300, UserID: &userID},
	}
	for name, input := range cases {
		if _, err := svc.RecordEntry(context.Background(), input); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	if _, err := svc.RecordEntry(context.Background(), RecordEntryInput{Type: enums.TransactionTypeExternal, AmountCents: 300}); err != nil {
		t.Fatalf("external entry should be valid: %v", err)
	}
}

func TestService_RecordEntryPropagatesRepoError(t *testing.T) {
	repoErr := errors.New("insert failed")
	svc, _ := NewService(&fakeRepository{createFn: func(context.Context, *models.Transaction) error { return repoErr }})
	_, err := svc.RecordEntry(context.Background(), RecordEntryInput{Type: enums.TransactionTypeExternal, AmountCents: 300})
	if !errors.Is(err, repoErr) {
		t.Fatalf("expected repo error, got %v", err)
	}
}

func TestRepository_ListsEntries(t *testing.T) {
	conn := testdb.Open(t, "ledger_repo")
	svc, err := NewService(NewRepository(conn))
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	ctx := context.Background()

	userID := uuid.New()
	orderID := uuid.New()
	if _, err := svc.RecordEntry(ctx, RecordEntryInput{Type: enums.TransactionTypeTopUp, AmountCents: 1000, UserID: &userID, BalanceBefore: int64Ptr(0), BalanceAfter: int64Ptr(1000)}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if _, err := svc.WithTx(conn).RecordEntry(ctx, RecordEntryInput{Type: enums.TransactionTypeOrder, AmountCents: -400, UserID: &userID, OrderID: &orderID, BalanceBefore: int64Ptr(1000), BalanceAfter: int64Ptr(600)}); err != nil {
		t.Fatalf("order: %v", err)
	}

	byUser, err := svc.ListForUser(ctx, userID, 0)
	if err != nil {
		t.Fatalf("list for user: %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(byUser))
	}
	byOrder, err := svc.ListForOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("list for order: %v", err)
	}
	if len(byOrder) != 1 || byOrder[0].AmountCents != -400 {
		t.Fatalf("unexpected order entries %+v", byOrder)
	}
	if _, err := svc.ListForOrder(ctx, uuid.Nil); err == nil {
		t.Fatalf("expected error for nil order id")
	}
}
