package repo

import (
	"context"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
)

// newTestDB opens an isolated in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedConversation(t *testing.T, db *gorm.DB, ws, phone string) (*domain.Contact, *domain.Conversation) {
	t.Helper()
	ctx := context.Background()
	c, err := CreateContact(ctx, db, ws, phone, "n")
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	conv, err := CreateConversation(ctx, db, ws, c.ID, nil)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return c, conv
}

func strp(s string) *string { return &s }
