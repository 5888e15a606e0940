package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvRecord maps the flat key layout onto a two-column table so the SQLite
// backend stores exactly the same logical schema as Redis.
type kvRecord struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value"`
}

func (kvRecord) TableName() string { return "kv_store" }

// SQLiteStore is the local single-instance backend.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database file and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&kvRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) get(ctx context.Context, key string) (string, bool, error) {
	var rec kvRecord
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.Value, true, nil
}

func (s *SQLiteStore) put(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&kvRecord{Key: key, Value: value}).Error
}

func (s *SQLiteStore) GetCredential(ctx context.Context, accountID string) (*Credential, error) {
	raw, ok, err := s.get(ctx, AccountKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("sqlite get %s: %w", accountID, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", accountID, err)
	}
	return &cred, nil
}

func (s *SQLiteStore) PutCredential(ctx context.Context, accountID string, cred *Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential %s: %w", accountID, err)
	}
	if err := s.put(ctx, AccountKey(accountID), string(raw)); err != nil {
		return fmt.Errorf("sqlite set %s: %w", accountID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteCredential(ctx context.Context, accountID string) error {
	return s.db.WithContext(ctx).Delete(&kvRecord{}, "key = ?", AccountKey(accountID)).Error
}

func (s *SQLiteStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&kvRecord{}).
		Where("key LIKE ?", accountKeyPrefix+"%").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite list accounts: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, accountKeyPrefix))
	}
	return ids, nil
}

func (s *SQLiteStore) GetFailedSet(ctx context.Context) ([]string, error) {
	raw, _, err := s.get(ctx, failedAccountsKey)
	if err != nil {
		return nil, fmt.Errorf("sqlite get failed set: %w", err)
	}
	return decodeFailedSet(raw), nil
}

func (s *SQLiteStore) SetFailedSet(ctx context.Context, ids []string) error {
	return s.put(ctx, failedAccountsKey, encodeFailedSet(ids))
}

func (s *SQLiteStore) GetLastResetDate(ctx context.Context) (string, error) {
	raw, _, err := s.get(ctx, lastFailedResetKey)
	if err != nil {
		return "", fmt.Errorf("sqlite get reset date: %w", err)
	}
	return raw, nil
}

func (s *SQLiteStore) SetLastResetDate(ctx context.Context, date string) error {
	return s.put(ctx, lastFailedResetKey, date)
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
