// Package testutil opens throwaway databases and seeds bookings for package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/rubhub/payouts/internal/migration"
	"github.com/rubhub/payouts/internal/servicerequest/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// OpenDB returns a migrated in-memory SQLite database private to t.
// The pool is pinned to one connection so the in-memory schema survives and
// concurrent writers serialize instead of failing with SQLITE_BUSY.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
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

	if err := migration.Apply(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// NewNode returns a snowflake node for test IDs.
func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// RequestSeed describes a booking to insert directly, bypassing the lifecycle.
type RequestSeed struct {
	TherapistID     snowflake.ID
	BasePrice       int64
	TravelFee       int64
	Discount        int64
	Currency        string
	Status          domain.Status
	PaymentStatus   domain.PaymentStatus
	PayoutProcessed bool
	CreatedAt       time.Time
}

// Fixtures seeds and manipulates service requests for settlement scenarios.
type Fixtures struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewFixtures(db *gorm.DB, genID *snowflake.Node) *Fixtures {
	return &Fixtures{db: db, genID: genID}
}

// SeedRequest inserts a booking with fees computed as the service would. Zero-valued
// status fields default to a completed, paid booking.
func (f *Fixtures) SeedRequest(ctx context.Context, seed RequestSeed) (*domain.ServiceRequest, error) {
	if seed.Status == "" {
		seed.Status = domain.StatusCompleted
	}
	if seed.PaymentStatus == "" {
		seed.PaymentStatus = domain.PaymentStatusPaid
	}
	if seed.TherapistID == 0 {
		seed.TherapistID = f.genID.Generate()
	}
	if seed.CreatedAt.IsZero() {
		seed.CreatedAt = time.Now().UTC()
	}
	if seed.Currency == "" {
		seed.Currency = domain.DefaultCurrency
	}

	req := &domain.ServiceRequest{
		ID:              f.genID.Generate(),
		TherapistID:     seed.TherapistID,
		CustomerID:      f.genID.Generate(),
		Status:          seed.Status,
		PaymentStatus:   seed.PaymentStatus,
		BasePrice:       seed.BasePrice,
		TravelFee:       seed.TravelFee,
		DiscountAmount:  seed.Discount,
		Currency:        seed.Currency,
		PayoutProcessed: seed.PayoutProcessed,
		CreatedAt:       seed.CreatedAt.UTC(),
		UpdatedAt:       seed.CreatedAt.UTC(),
	}
	if err := req.ApplyFees(); err != nil {
		return nil, err
	}
	if err := f.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

// Backdate moves a booking's created_at, e.g. outside the discovery window.
func (f *Fixtures) Backdate(ctx context.Context, id snowflake.ID, createdAt time.Time) error {
	return f.db.WithContext(ctx).Exec(
		`UPDATE service_requests SET created_at = ? WHERE id = ?`,
		createdAt.UTC(),
		id,
	).Error
}

// PayoutProcessed reads the double-payout guard flag.
func (f *Fixtures) PayoutProcessed(ctx context.Context, id snowflake.ID) (bool, error) {
	var processed bool
	err := f.db.WithContext(ctx).Raw(
		`SELECT payout_processed FROM service_requests WHERE id = ?`,
		id,
	).Scan(&processed).Error
	return processed, err
}

// CountPayments counts payment rows for a request.
func (f *Fixtures) CountPayments(ctx context.Context, requestID snowflake.ID) (int64, error) {
	var count int64
	err := f.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM payments WHERE request_id = ?`,
		requestID,
	).Scan(&count).Error
	return count, err
}
