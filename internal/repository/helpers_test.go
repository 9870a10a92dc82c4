package repository

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "repo.db") + "?_busy_timeout=5000"
	db, err := Open("sqlite", dsn, logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func strPtr(v string) *string { return &v }

func activeToken(id, hash string, userID uint, deviceID, familyID string) *domain.RefreshToken {
	now := time.Now().UTC()
	return &domain.RefreshToken{
		ID:            id,
		TokenHash:     hash,
		UserID:        userID,
		DeviceID:      deviceID,
		SessionID:     "sess-" + deviceID,
		IssuedAt:      now,
		EndOfLife:     now.Add(24 * time.Hour),
		Status:        domain.TokenStatusActive,
		TokenFamilyID: familyID,
	}
}
