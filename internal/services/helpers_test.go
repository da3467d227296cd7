package services

import (
	"context"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
	"github.com/tbourn/wa-inbound-gateway/internal/forward"
	"github.com/tbourn/wa-inbound-gateway/internal/repo"
)

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
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedQueue creates queue q1 in workspace w1 with the given policy. Members
// are added in order_position order; inactive ones are suffixed with "!".
func seedQueue(t *testing.T, db *gorm.DB, policy string, members ...string) *domain.Queue {
	t.Helper()
	q := &domain.Queue{ID: "q1", WorkspaceID: "w1", Name: "support", Policy: policy}
	if err := db.Create(q).Error; err != nil {
		t.Fatalf("seed queue: %v", err)
	}
	for i, m := range members {
		id, active := m, true
		if n := len(m); n > 0 && m[n-1] == '!' {
			id, active = m[:n-1], false
		}
		if err := db.Create(&domain.User{ID: id, WorkspaceID: "w1", Name: id, Active: true}).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
		if !active {
			db.Model(&domain.User{}).Where("id = ?", id).Update("active", false)
		}
		qu := &domain.QueueUser{ID: "qu-" + id, QueueID: q.ID, UserID: id, OrderPosition: i + 1}
		if err := db.Create(qu).Error; err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	return q
}

// seedConnection binds instance to workspace w1, optionally routed to queueID.
func seedConnection(t *testing.T, db *gorm.DB, id, instance, queueID string) *domain.Connection {
	t.Helper()
	c := &domain.Connection{ID: id, WorkspaceID: "w1", Name: instance, InstanceName: instance}
	if queueID != "" {
		c.QueueID = &queueID
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	return c
}

func newConversation(t *testing.T, db *gorm.DB, phone string) *domain.Conversation {
	t.Helper()
	ctx := context.Background()
	c, err := repo.CreateContact(ctx, db, "w1", phone, phone)
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	conv, err := repo.CreateConversation(ctx, db, "w1", c.ID, nil)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return conv
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// fakeDispatcher records forward events without performing I/O.
type fakeDispatcher struct {
	mu     sync.Mutex
	events []forward.Event
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev forward.Event) <-chan error {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (f *fakeDispatcher) sent() []forward.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forward.Event(nil), f.events...)
}
