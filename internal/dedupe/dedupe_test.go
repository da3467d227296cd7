package dedupe

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newCache(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), mr.Addr(), "", 0, time.Hour)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedis_RememberThenLookup(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if _, hit, err := c.Lookup(ctx, "w1", "EVT1"); err != nil || hit {
		t.Fatalf("cold lookup = %v, %v", hit, err)
	}
	if err := c.Remember(ctx, "w1", "EVT1", Entry{MessageID: "m1", ConversationID: "c1"}); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	e, hit, err := c.Lookup(ctx, "w1", "EVT1")
	if err != nil || !hit || e.MessageID != "m1" || e.ConversationID != "c1" {
		t.Fatalf("warm lookup = %+v, %v, %v", e, hit, err)
	}
	// Workspace scoped.
	if _, hit, _ := c.Lookup(ctx, "w2", "EVT1"); hit {
		t.Fatalf("lookup must be workspace scoped")
	}
	// First writer wins.
	_ = c.Remember(ctx, "w1", "EVT1", Entry{MessageID: "m2"})
	e, _, _ = c.Lookup(ctx, "w1", "EVT1")
	if e.MessageID != "m1" {
		t.Fatalf("entry overwritten: %+v", e)
	}

	mr.FastForward(2 * time.Hour)
	if _, hit, _ := c.Lookup(ctx, "w1", "EVT1"); hit {
		t.Fatalf("entry should expire after TTL")
	}
}

func TestRedis_IgnoresEmptyKeys(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	if err := c.Remember(ctx, "w1", "", Entry{MessageID: "m"}); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("empty external id must not be cached: %v", mr.Keys())
	}
	if _, hit, err := c.Lookup(ctx, "w1", ""); hit || err != nil {
		t.Fatalf("empty lookup = %v, %v", hit, err)
	}
}

func TestRedis_ErrorsSurface(t *testing.T) {
	c, mr := newCache(t)
	mr.Close()
	if _, _, err := c.Lookup(context.Background(), "w1", "E"); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}

func TestNewRedis_Unreachable(t *testing.T) {
	if _, err := NewRedis(context.Background(), "127.0.0.1:1", "", 0, time.Minute); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}
	if _, hit, err := c.Lookup(context.Background(), "w", "e"); hit || err != nil {
		t.Fatalf("noop lookup = %v, %v", hit, err)
	}
	if err := c.Remember(context.Background(), "w", "e", Entry{}); err != nil {
		t.Fatalf("noop remember: %v", err)
	}
	var _ Cache = (*Redis)(nil)
}
