package refunds

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/audit"
	"github.com/angelmondragon/canteen-backend/internal/balance"
	"github.com/angelmondragon/canteen-backend/internal/inventory"
	"github.com/angelmondragon/canteen-backend/internal/ledger"
	"github.com/angelmondragon/canteen-backend/internal/orders"
	"github.com/angelmondragon/canteen-backend/internal/testdb"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
)

type fixture struct {
	conn    *gorm.DB
	service *Service
	stock   *inventory.Ledger
	manager *uow.Manager
	orders  orders.Repository
}

func newFixture(t *testing.T, name string, mode uow.Mode) fixture {
	t.Helper()
	client := testdb.Client(t, name)
	conn := client.DB()
	manager, err := uow.NewManager(uow.ManagerParams{Runner: client, Mode: mode})
	require.NoError(t, err)
	auditor := audit.NewService(nil)
	events := outbox.NewService(outbox.NewRepository(conn), nil)
	entries, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	stock, err := inventory.NewLedger(inventory.LedgerParams{DB: conn, Audit: auditor})
	require.NoError(t, err)
	balances, err := balance.NewLedger(balance.LedgerParams{DB: conn, Entries: entries, Events: events})
	require.NoError(t, err)
	repo := orders.NewRepository(conn)

	svc, err := NewService(ServiceParams{
		Units:     manager,
		Orders:    repo,
		Inventory: stock,
		Balances:  balances,
		Audit:     auditor,
		Events:    events,
	})
	require.NoError(t, err)
	return fixture{conn: conn, service: svc, stock: stock, manager: manager, orders: repo}
}

var modes = []uow.Mode{uow.ModeTransactional, uow.ModeBestEffort}

// placeWithProvenance deducts qty through the ledger and records the changes
// on a new order, the way placement leaves it.
func (f fixture) placeWithProvenance(t *testing.T, user *models.User, code string, product *models.Product, qty int) *models.Order {
	t.Helper()
	order := testdb.MustCreateOrder(t, f.conn, &user.ID, code, product, qty)
	_, err := f.manager.Do(context.Background(), "seed", func(ctx context.Context, w uow.Work) error {
		changes, err := f.stock.Deduct(ctx, w, []inventory.DeductRequest{{ProductID: product.ID, Name: product.Name, Qty: qty}})
		if err != nil {
			return err
		}
		return f.orders.WithTx(w.DB()).UpdateMetadata(ctx, order.ID, models.OrderMetadata{InventoryChanges: changes})
	})
	require.NoError(t, err)
	return testdb.Reload(t, f.conn, order.ID)
}

func TestRefundRestoresStockOnceAndCreditsEachTime(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, "refund_provenance", mode)
			admin := testdb.MustCreateAdmin(t, f.conn)
			user := testdb.MustCreateUser(t, f.conn, "REG-100", 0)
			samosa := testdb.MustCreateProduct(t, f.conn, "Samosa", "snacks", 1500)
			main := testdb.MustCreateRecord(t, f.conn, samosa.ID, "Main", 5)
			annex := testdb.MustCreateRecord(t, f.conn, samosa.ID, "Annex", 3)
			order := f.placeWithProvenance(t, user, "RC-REF001", samosa, 6)
			require.Equal(t, 0, testdb.Quantity(t, f.conn, main.ID))
			require.Equal(t, 2, testdb.Quantity(t, f.conn, annex.ID))

			res, err := f.service.Refund(context.Background(), RefundInput{
				AdminID:     admin.ID,
				UserRef:     "REG-100",
				AmountCents: 9000,
				OrderRef:    order.Code,
			})
			require.NoError(t, err)
			assert.True(t, res.OrderFound)
			require.Len(t, res.InventoryRestored, 2)
			assert.Empty(t, res.Warnings)
			assert.Equal(t, 5, testdb.Quantity(t, f.conn, main.ID))
			assert.Equal(t, 3, testdb.Quantity(t, f.conn, annex.ID))
			assert.Equal(t, int64(9000), testdb.Balance(t, f.conn, user.ID))

			require.NotNil(t, res.Transaction)
			assert.Equal(t, enums.TransactionTypeRefund, res.Transaction.Type)
			assert.Equal(t, int64(9000), res.Transaction.AmountCents)

			reloaded := testdb.Reload(t, f.conn, order.ID)
			assert.Equal(t, enums.OrderStatusRefunded, reloaded.Status)
			assert.True(t, reloaded.Metadata.Data.InventoryRestored)
			assert.NotNil(t, reloaded.Metadata.Data.InventoryRestoredAt)

			again, err := f.service.Refund(context.Background(), RefundInput{
				AdminID:     admin.ID,
				UserRef:     user.ID.String(),
				AmountCents: 500,
				OrderRef:    order.ID.String(),
			})
			require.NoError(t, err)
			assert.True(t, again.OrderFound)
			assert.Empty(t, again.InventoryRestored)
			assert.Equal(t, 5, testdb.Quantity(t, f.conn, main.ID))
			assert.Equal(t, 3, testdb.Quantity(t, f.conn, annex.ID))
			assert.Equal(t, int64(9500), testdb.Balance(t, f.conn, user.ID))

			var refunded int64
			require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderRefunded).Count(&refunded).Error)
			assert.Equal(t, int64(2), refunded)
		})
	}
}

func TestConcurrentBestEffortRefundsRestoreStockOnce(t *testing.T) {
	f := newFixture(t, "refund_concurrent", uow.ModeBestEffort)
	admin := testdb.MustCreateAdmin(t, f.conn)
	user := testdb.MustCreateUser(t, f.conn, "REG-300", 0)
	wrap := testdb.MustCreateProduct(t, f.conn, "Wrap", "hot food", 800)
	main := testdb.MustCreateRecord(t, f.conn, wrap.ID, "Main", 5)
	order := f.placeWithProvenance(t, user, "RC-RACE01", wrap, 3)
	require.Equal(t, 2, testdb.Quantity(t, f.conn, main.ID))

	// Both refunds read the order before either writes.
	testdb.Delay(t, f.conn, "query", "orders", 20*time.Millisecond)

	var wg sync.WaitGroup
	results := make([]*RefundResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.service.Refund(context.Background(), RefundInput{
				AdminID:     admin.ID,
				UserRef:     "REG-300",
				AmountCents: 2400,
				OrderRef:    order.Code,
			})
		}(i)
	}
	wg.Wait()

	restoredBy := 0
	for i := range results {
		require.NoError(t, errs[i])
		if len(results[i].InventoryRestored) > 0 {
			restoredBy++
		}
	}
	assert.Equal(t, 1, restoredBy)
	assert.Equal(t, 5, testdb.Quantity(t, f.conn, main.ID))
	assert.Equal(t, int64(4800), testdb.Balance(t, f.conn, user.ID))

	reloaded := testdb.Reload(t, f.conn, order.ID)
	assert.NotNil(t, reloaded.InventoryRestoredAt)
	assert.True(t, reloaded.Metadata.Data.InventoryRestored)
}

func TestRefundReleasesRestoreClaimWhenCreditFails(t *testing.T) {
	f := newFixture(t, "refund_release", uow.ModeBestEffort)
	admin := testdb.MustCreateAdmin(t, f.conn)
	user := testdb.MustCreateUser(t, f.conn, "REG-301", 0)
	wrap := testdb.MustCreateProduct(t, f.conn, "Wrap", "hot food", 800)
	main := testdb.MustCreateRecord(t, f.conn, wrap.ID, "Main", 5)
	order := f.placeWithProvenance(t, user, "RC-RACE02", wrap, 3)

	// Every balance update fails, so the credit aborts the unit.
	require.NoError(t, f.conn.Callback().Update().Before("gorm:update").Register("test:drop_user", func(tx *gorm.DB) {
		if tx.Statement.Table == "users" {
			_ = tx.AddError(assert.AnError)
		}
	}))

	_, err := f.service.Refund(context.Background(), RefundInput{
		AdminID:     admin.ID,
		UserRef:     "REG-301",
		AmountCents: 2400,
		OrderRef:    order.Code,
	})
	require.Error(t, err)

	assert.Equal(t, 2, testdb.Quantity(t, f.conn, main.ID))
	reloaded := testdb.Reload(t, f.conn, order.ID)
	assert.Nil(t, reloaded.InventoryRestoredAt)
	assert.False(t, reloaded.Metadata.Data.InventoryRestored)
}

func TestRefundWithoutProvenanceRestoresHeuristically(t *testing.T) {
	f := newFixture(t, "refund_heuristic", uow.ModeTransactional)
	admin := testdb.MustCreateAdmin(t, f.conn)
	user := testdb.MustCreateUser(t, f.conn, "REG-101", 0)
	tea := testdb.MustCreateProduct(t, f.conn, "Tea", "drinks", 200)
	small := testdb.MustCreateRecord(t, f.conn, tea.ID, "Kiosk", 1)
	large := testdb.MustCreateRecord(t, f.conn, tea.ID, "Main", 4)
	order := testdb.MustCreateOrder(t, f.conn, &user.ID, "RC-REF002", tea, 3)

	res, err := f.service.Refund(context.Background(), RefundInput{
		AdminID:     admin.ID,
		UserRef:     "REG-101",
		AmountCents: 600,
		OrderRef:    order.Code,
	})
	require.NoError(t, err)
	require.Len(t, res.InventoryRestored, 1)
	assert.True(t, res.InventoryRestored[0].Heuristic)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, stepHeuristicRestore, res.Warnings[0].Step)
	assert.Equal(t, 7, testdb.Quantity(t, f.conn, large.ID))
	assert.Equal(t, 1, testdb.Quantity(t, f.conn, small.ID))
}

func TestRefundKeepsCancelledStatus(t *testing.T) {
	f := newFixture(t, "refund_cancelled", uow.ModeTransactional)
	admin := testdb.MustCreateAdmin(t, f.conn)
	user := testdb.MustCreateUser(t, f.conn, "REG-102", 0)
	tea := testdb.MustCreateProduct(t, f.conn, "Tea", "drinks", 200)
	testdb.MustCreateRecord(t, f.conn, tea.ID, "Main", 4)
	order := f.placeWithProvenance(t, user, "RC-REF003", tea, 2)
	require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", enums.OrderStatusCancelled).Error)

	_, err := f.service.Refund(context.Background(), RefundInput{
		AdminID:     admin.ID,
		UserRef:     "REG-102",
		AmountCents: 400,
		OrderRef:    order.Code,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, testdb.Reload(t, f.conn, order.ID).Status)
}

func TestRefundWithoutOrderOnlyCredits(t *testing.T) {
	f := newFixture(t, "refund_no_order", uow.ModeTransactional)
	admin := testdb.MustCreateAdmin(t, f.conn)
	user := testdb.MustCreateUser(t, f.conn, "REG-103", 100)

	res, err := f.service.Refund(context.Background(), RefundInput{
		AdminID:     admin.ID,
		UserRef:     "REG-103",
		AmountCents: 250,
		OrderRef:    "RC-NOPE00",
	})
	require.NoError(t, err)
	assert.False(t, res.OrderFound)
	assert.Empty(t, res.InventoryRestored)
	assert.Nil(t, res.Transaction.OrderID)
	assert.Equal(t, int64(350), testdb.Balance(t, f.conn, user.ID))
	assert.Equal(t, int64(1), testdb.Count(t, f.conn, &models.AuditLog{}))
}

func TestRefundValidation(t *testing.T) {
	f := newFixture(t, "refund_validation", uow.ModeTransactional)
	admin := testdb.MustCreateAdmin(t, f.conn)

	_, err := f.service.Refund(context.Background(), RefundInput{AdminID: admin.ID, UserRef: "REG-1", AmountCents: 0})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.service.Refund(context.Background(), RefundInput{AdminID: admin.ID, UserRef: "REG-404", AmountCents: 100})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeUserNotFound))
}
