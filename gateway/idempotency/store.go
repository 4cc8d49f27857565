package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Record is a cached response for one Idempotency-Key.
type Record struct {
	Key         string `gorm:"primaryKey;size:128"`
	RequestID   string `gorm:"size:64"`
	RequestHash string `gorm:"size:64"`
	Status      int
	Response    string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
}

func (Record) TableName() string { return "rpc_idempotency_keys" }

// Store persists idempotency records through gorm. SQLite DSNs use the pure Go
// driver; postgres:// URLs use the postgres driver.
type Store struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// Open connects to dsn and migrates the schema. Records older than ttl are
// treated as absent.
func Open(dsn string, ttl time.Duration) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("idempotency: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("idempotency: open: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("idempotency: migrate: %w", err)
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// SetNowFunc overrides the clock.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Lookup returns the live record for key, or nil.
func (s *Store) Lookup(ctx context.Context, key string) (*Record, error) {
	var record Record
	err := s.db.WithContext(ctx).First(&record, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.expired(record.CreatedAt) {
		return nil, nil
	}
	return &record, nil
}

// Save stores record, replacing an expired entry under the same key.
func (s *Store) Save(ctx context.Context, record *Record) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"request_id", "request_hash", "status", "response", "created_at"}),
	}).Create(record).Error
}

// Prune deletes expired records and reports how many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-s.ttl)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Record{})
	return res.RowsAffected, res.Error
}

func (s *Store) expired(createdAt time.Time) bool {
	return s.ttl > 0 && s.now().Sub(createdAt) > s.ttl
}
