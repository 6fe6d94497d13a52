package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Entry is one persisted cached reply
type Entry struct {
	CacheKey  string `gorm:"primaryKey;size:64"`
	Model     string `gorm:"index"`
	Response  string
	CreatedAt time.Time
}

func (Entry) TableName() string {
	return "response_cache"
}

// GormStore persists cached replies in a database table
type GormStore struct {
	db *gorm.DB
}

// OpenGorm opens gorm on an existing sqlite connection pool
func OpenGorm(conn *sql.DB) (*gorm.DB, error) {
	db, err := gorm.Open(&sqlite.Dialector{Conn: conn}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return db, nil
}

// NewGormStore migrates the cache table and returns a store backed by db
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry Entry
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Response, true, nil
}

func (s *GormStore) Put(ctx context.Context, key, model, response string) error {
	entry := Entry{CacheKey: key, Model: model, Response: response, CreatedAt: time.Now()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
}

// Purge deletes entries older than maxAge and returns how many were removed
func (s *GormStore) Purge(ctx context.Context, maxAge time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", time.Now().Add(-maxAge)).Delete(&Entry{})
	return res.RowsAffected, res.Error
}
