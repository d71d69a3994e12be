package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type company struct {
	Name string `json:"name"`
	CUI  string `json:"cui"`
}

func setupTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	c, err := NewRedisCache("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	if _, err := NewRedisCache("::not-a-url"); err == nil {
		t.Fatal("expected an error for an invalid url")
	}
}

func TestSetAndGetJSON(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()

	if err := c.SetJSON(ctx, "registry", "123", company{Name: "ACME", CUI: "123"}, time.Hour); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	if !s.Exists("orgchart:registry:123") {
		t.Fatal("expected namespaced key to exist")
	}

	var got company
	ok, err := c.GetJSON(ctx, "registry", "123", &got)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if !ok || got.Name != "ACME" {
		t.Fatalf("unexpected cache result ok=%v value=%+v", ok, got)
	}
}

func TestGetJSONMiss(t *testing.T) {
	c, _ := setupTestCache(t)
	var got company
	ok, err := c.GetJSON(context.Background(), "registry", "missing", &got)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if ok {
		t.Fatal("expected a miss")
	}
}

func TestEntriesExpire(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()

	if err := c.SetJSON(ctx, "ai", "k", company{Name: "x"}, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	var got company
	ok, err := c.GetJSON(ctx, "ai", "k", &got)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if ok {
		t.Fatal("expected expired entry to be gone")
	}
}

func TestDelete(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()
	if err := c.SetJSON(ctx, "ai", "k", company{}, 0); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	if err := c.Delete(ctx, "ai", "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.Exists("orgchart:ai:k") {
		t.Fatal("expected key to be deleted")
	}
}

func TestGetJSONCorruptValue(t *testing.T) {
	c, s := setupTestCache(t)
	if err := s.Set("orgchart:ai:k", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var got company
	if _, err := c.GetJSON(context.Background(), "ai", "k", &got); err == nil {
		t.Fatal("expected a decode error")
	}
}
