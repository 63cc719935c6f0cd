package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/readone97/Sol-Kart/native/payrequest"
)

// IntentRecord is the row layout of a pending payment request. Amounts are
// stored as decimal text so no precision is lost.
type IntentRecord struct {
	Reference string `gorm:"primaryKey;size:64"`
	Recipient string `gorm:"not null;size:64"`
	Amount    string `gorm:"not null"`
	SPLToken  string `gorm:"size:64"`
	Label     string
	Message   string
	Memo      string
	CreatedAt time.Time
	ExpiresAt *time.Time `gorm:"index"`
}

// TableName pins the table name independently of the struct name.
func (IntentRecord) TableName() string { return "payment_intents" }

// Open connects gorm to the configured driver and migrates the intent table.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate performs the schema migrations for the intent store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&IntentRecord{})
}

// GormIntentStore is a durable payrequest.Store. Single-statement inserts and
// deletes give the per-reference atomicity the verifier relies on.
type GormIntentStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormIntentStore wraps a migrated database handle.
func NewGormIntentStore(db *gorm.DB) *GormIntentStore {
	return &GormIntentStore{db: db, now: time.Now}
}

// SetClock overrides the clock used for expiry checks.
func (s *GormIntentStore) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *GormIntentStore) Insert(ctx context.Context, intent *payrequest.Intent) error {
	if intent == nil {
		return errors.New("storage: intent required")
	}
	rec := toRecord(intent)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return fmt.Errorf("storage: insert intent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return payrequest.ErrReferenceCollision
	}
	return nil
}

func (s *GormIntentStore) Get(ctx context.Context, ref payrequest.Reference) (*payrequest.Intent, error) {
	var rec IntentRecord
	err := s.db.WithContext(ctx).
		Where("reference = ?", ref.String()).
		Where("expires_at IS NULL OR expires_at > ?", s.now().UTC()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, payrequest.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load intent: %w", err)
	}
	return fromRecord(rec)
}

func (s *GormIntentStore) Delete(ctx context.Context, ref payrequest.Reference) (bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Where("reference = ?", ref.String()).
		Where("expires_at IS NULL OR expires_at > ?", s.now().UTC()).
		Delete(&IntentRecord{})
	if res.Error != nil {
		return false, fmt.Errorf("storage: delete intent: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// An expired row still occupies the reference until swept.
	if err := db.Where("reference = ?", ref.String()).Delete(&IntentRecord{}).Error; err != nil {
		return false, fmt.Errorf("storage: delete intent: %w", err)
	}
	return false, nil
}

func (s *GormIntentStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Delete(&IntentRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("storage: sweep intents: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *GormIntentStore) Count(ctx context.Context) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&IntentRecord{}).
		Where("expires_at IS NULL OR expires_at > ?", s.now().UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("storage: count intents: %w", err)
	}
	return int(count), nil
}

func toRecord(intent *payrequest.Intent) IntentRecord {
	rec := IntentRecord{
		Reference: intent.Reference.String(),
		Recipient: intent.Recipient,
		Amount:    intent.Amount.String(),
		SPLToken:  intent.SPLToken,
		Label:     intent.Label,
		Message:   intent.Message,
		Memo:      intent.Memo,
		CreatedAt: intent.CreatedAt.UTC(),
	}
	if !intent.ExpiresAt.IsZero() {
		expires := intent.ExpiresAt.UTC()
		rec.ExpiresAt = &expires
	}
	return rec
}

func fromRecord(rec IntentRecord) (*payrequest.Intent, error) {
	ref, err := payrequest.ParseReference(rec.Reference)
	if err != nil {
		return nil, fmt.Errorf("storage: stored reference: %w", err)
	}
	amount, err := decimal.NewFromString(rec.Amount)
	if err != nil {
		return nil, fmt.Errorf("storage: stored amount %q: %w", rec.Amount, err)
	}
	intent := &payrequest.Intent{
		Reference: ref,
		Recipient: rec.Recipient,
		Amount:    amount,
		SPLToken:  rec.SPLToken,
		Label:     rec.Label,
		Message:   rec.Message,
		Memo:      rec.Memo,
		CreatedAt: rec.CreatedAt.UTC(),
	}
	if rec.ExpiresAt != nil {
		intent.ExpiresAt = rec.ExpiresAt.UTC()
	}
	return intent, nil
}

var _ payrequest.Store = (*GormIntentStore)(nil)
