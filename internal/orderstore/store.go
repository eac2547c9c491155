// Package orderstore is a gorm-backed reference implementation of the
// order/ledger collaborator. Production deployments point the engines
// at the real ledger backend; this store backs the simulator and
// integration tests.
package orderstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coinpilot/txengine/internal/quotes"
	"github.com/coinpilot/txengine/internal/txengine"
	"github.com/coinpilot/txengine/pkg/money"
)

// ErrOrderNotFound is returned when an update references an unknown
// order.
var ErrOrderNotFound = errors.New("order not found")

// ErrOrderSettled is returned when an update targets an order already
// in a terminal status.
var ErrOrderSettled = errors.New("order already settled")

// OrderRecord is the persisted shape of an order.
type OrderRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	Direction      string `gorm:"size:16"`
	QuoteID        string `gorm:"size:36"`
	Volume         string `gorm:"size:64"`
	VolumeCurrency string `gorm:"size:16"`
	Currency       string `gorm:"size:16"`
	DepositAddress string `gorm:"size:128"`
	Status         string `gorm:"size:16;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (OrderRecord) TableName() string { return "orders" }

// AddressAllocator hands out a deposit address for orders whose source
// leg pays in from user keys.
type AddressAllocator func(currency string) string

// Store implements txengine.OrderService over a gorm database.
type Store struct {
	logger    *zap.Logger
	db        *gorm.DB
	allocator AddressAllocator
}

// Option configures a Store.
type Option func(*Store)

// WithAddressAllocator sets the deposit address source.
func WithAddressAllocator(a AddressAllocator) Option {
	return func(s *Store) { s.allocator = a }
}

// Open opens a sqlite database at the given DSN and migrates the
// orders table.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open order store: %w", err)
	}
	if err := db.AutoMigrate(&OrderRecord{}); err != nil {
		return nil, fmt.Errorf("migrate order store: %w", err)
	}
	return db, nil
}

// New creates a store over an opened database.
func New(logger *zap.Logger, db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		logger:    logger.Named("orderstore"),
		db:        db,
		allocator: func(string) string { return "" },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateOrder(ctx context.Context, direction quotes.OrderDirection, quoteID uuid.UUID, volume money.Value, currency string) (txengine.Order, error) {
	order := txengine.Order{
		ID:        uuid.New(),
		Direction: direction,
		QuoteID:   quoteID,
		Volume:    volume,
		Currency:  currency,
		Status:    txengine.OrderStatusPending,
	}
	// Only flows paying in from user keys need somewhere to pay.
	if !direction.IsFromCustodial() {
		order.DepositAddress = s.allocator(volume.Currency.Code)
	}

	record := OrderRecord{
		ID:             order.ID.String(),
		Direction:      direction.String(),
		QuoteID:        quoteID.String(),
		Volume:         volume.Amount.String(),
		VolumeCurrency: volume.Currency.Code,
		Currency:       currency,
		DepositAddress: order.DepositAddress,
		Status:         string(order.Status),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return txengine.Order{}, fmt.Errorf("create order: %w", err)
	}
	s.logger.Info("order created",
		zap.String("order_id", record.ID),
		zap.String("direction", record.Direction),
		zap.String("volume", record.Volume))
	return order, nil
}

func (s *Store) UpdateOrder(ctx context.Context, id uuid.UUID, success bool) error {
	status := txengine.OrderStatusSucceeded
	if !success {
		status = txengine.OrderStatusFailed
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record OrderRecord
		err := tx.First(&record, "id = ?", id.String()).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if record.Status != string(txengine.OrderStatusPending) {
			return fmt.Errorf("%w: %s is %s", ErrOrderSettled, id, record.Status)
		}
		record.Status = string(status)
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		return nil
	})
}

// Get loads one order record.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (OrderRecord, error) {
	var record OrderRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return OrderRecord{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return OrderRecord{}, fmt.Errorf("load order: %w", err)
	}
	return record, nil
}

// Volume parses the stored decimal volume.
func (r OrderRecord) VolumeValue() (decimal.Decimal, error) {
	return decimal.NewFromString(r.Volume)
}
