// Package testdb opens migrated in-memory SQLite databases and seeds canteen
// fixtures for package tests.
package testdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	dbpkg "github.com/angelmondragon/canteen-backend/pkg/db"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/canteen-backend/pkg/db/types"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

// Open returns a fresh migrated database. A single pooled connection keeps
// concurrent callers serialized the way row locks would on Postgres.
func Open(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// Client wraps Open in a *db.Client.
func Client(t *testing.T, name string) *dbpkg.Client {
	t.Helper()
	return dbpkg.NewFromGorm(Open(t, name))
}

func MustCreateProduct(t *testing.T, conn *gorm.DB, name, category string, priceCents int64) *models.Product {
	t.Helper()
	product := &models.Product{
		Name:       name,
		Category:   category,
		PriceCents: priceCents,
		Available:  true,
		Allergens:  dbtypes.NewJSON([]string{}),
	}
	if err := conn.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func MustCreateRecord(t *testing.T, conn *gorm.DB, productID uuid.UUID, location string, qty int) *models.InventoryRecord {
	t.Helper()
	record := &models.InventoryRecord{
		ProductID: productID,
		Location:  location,
		Quantity:  qty,
		Active:    true,
	}
	if err := conn.Create(record).Error; err != nil {
		t.Fatalf("create inventory record: %v", err)
	}
	return record
}

func MustCreateUser(t *testing.T, conn *gorm.DB, regNumber string, balanceCents int64) *models.User {
	t.Helper()
	user := &models.User{
		Name:         "Test " + regNumber,
		Role:         enums.UserRoleStudent,
		BalanceCents: balanceCents,
	}
	if regNumber != "" {
		reg := regNumber
		user.RegistrationNumber = &reg
	}
	if err := conn.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func MustCreateAdmin(t *testing.T, conn *gorm.DB) *models.User {
	t.Helper()
	admin := &models.User{Name: "Admin", Role: enums.UserRoleAdmin}
	if err := conn.Create(admin).Error; err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return admin
}

// Balance reloads a user's balance.
func Balance(t *testing.T, conn *gorm.DB, userID uuid.UUID) int64 {
	t.Helper()
	var user models.User
	if err := conn.First(&user, "id = ?", userID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return user.BalanceCents
}

// Quantity reloads a record's quantity.
func Quantity(t *testing.T, conn *gorm.DB, recordID uuid.UUID) int {
	t.Helper()
	var record models.InventoryRecord
	if err := conn.First(&record, "id = ?", recordID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	return record.Quantity
}

// Count returns the number of rows of model.
func Count(t *testing.T, conn *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := conn.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// MustCreateOrder inserts an order with one line of qty units of product.
func MustCreateOrder(t *testing.T, conn *gorm.DB, userID *uuid.UUID, code string, product *models.Product, qty int) *models.Order {
	t.Helper()
	item := models.OrderItem{
		ProductID:      product.ID,
		Name:           product.Name,
		Category:       product.Category,
		UnitPriceCents: product.PriceCents,
		Qty:            qty,
	}
	order := &models.Order{
		Code:       code,
		Items:      dbtypes.NewJSON([]models.OrderItem{item}),
		TotalCents: item.LineTotalCents(),
		Status:     enums.OrderStatusPlaced,
		UserID:     userID,
		Metadata:   dbtypes.NewJSON(models.OrderMetadata{}),
	}
	if err := conn.Create(order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

// Reload fetches an order by id.
func Reload(t *testing.T, conn *gorm.DB, orderID uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	if err := conn.First(&order, "id = ?", orderID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return &order
}

// Delay sleeps around every statement of kind ("query" or "update") that
// touches table, widening the gap between a read and the write built on it.
func Delay(t *testing.T, conn *gorm.DB, kind, table string, d time.Duration) {
	t.Helper()
	name := fmt.Sprintf("testdb:delay_%s_%s", kind, table)
	fn := func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			time.Sleep(d)
		}
	}
	var err error
	switch kind {
	case "query":
		err = conn.Callback().Query().After("gorm:query").Register(name, fn)
	case "update":
		err = conn.Callback().Update().Before("gorm:update").Register(name, fn)
	default:
		t.Fatalf("unknown callback kind %q", kind)
	}
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

// NoTxRunner hands out conn but refuses transaction blocks the way a
// transaction-pooling proxy does.
type NoTxRunner struct {
	Conn *gorm.DB
}

func (r NoTxRunner) DB() *gorm.DB { return r.Conn }

func (r NoTxRunner) WithTx(context.Context, func(tx *gorm.DB) error) error {
	return fmt.Errorf("%w: transaction blocks not allowed", dbpkg.ErrTransactionsUnsupported)
}
