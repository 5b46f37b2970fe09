// Package testutil provides in-process database and Redis fixtures so
// package tests run without external services.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
)

// NewTestDB opens an isolated in-memory SQLite database with every model migrated.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// One connection keeps the shared in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// NewTestRedis starts a miniredis server and returns a client bound to it.
func NewTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// SeedPlan stores a plan with the given duration.
func SeedPlan(t *testing.T, db *gorm.DB, id string, days int) *models.Plan {
	t.Helper()

	plan := &models.Plan{
		ID:           id,
		Name:         id,
		Price:        decimal.RequireFromString("49.90"),
		Currency:     "COP",
		DurationDays: days,
		IsActive:     true,
	}
	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan
}

// SeedPayment stores an open payment created at createdAt.
func SeedPayment(t *testing.T, db *gorm.DB, provider, userID, planID, amount, currency string, createdAt time.Time) *models.Payment {
	t.Helper()

	payment := &models.Payment{
		UserID:    userID,
		PlanID:    planID,
		Provider:  provider,
		Amount:    decimal.RequireFromString(amount),
		Currency:  currency,
		Status:    models.PaymentStatusPending,
		CreatedAt: createdAt.UTC(),
	}
	if err := db.Create(payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return payment
}
