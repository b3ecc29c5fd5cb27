package kv

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewWithClient(rdb)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestGetSet(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if ok {
		t.Error("missing key should report ok=false")
	}

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get after Set: val=%q ok=%v err=%v", val, ok, err)
	}
	if val != "v" {
		t.Errorf("Expected v, got %q", val)
	}
}

func TestSetExAndTTL(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	if err := c.SetEx(ctx, "flag", "true", 5*time.Minute); err != nil {
		t.Fatalf("SetEx: %v", err)
	}
	ttl, err := c.TTL(ctx, "flag")
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > 5*time.Minute {
		t.Errorf("Expected ttl in (0, 5m], got %v", ttl)
	}

	mr.FastForward(6 * time.Minute)
	ok, err := c.Exists(ctx, "flag")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("flag should have expired")
	}
}

func TestListOps(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		if err := c.LPush(ctx, "list", v); err != nil {
			t.Fatalf("LPush: %v", err)
		}
	}

	n, err := c.LLen(ctx, "list")
	if err != nil || n != 3 {
		t.Fatalf("LLen = %d, err %v", n, err)
	}

	// BRPop takes the oldest entry first.
	val, ok, err := c.BRPop(ctx, time.Second, "list")
	if err != nil || !ok {
		t.Fatalf("BRPop: ok=%v err=%v", ok, err)
	}
	if val != "a" {
		t.Errorf("Expected FIFO pop of a, got %q", val)
	}

	removed, err := c.LRem(ctx, "list", 0, "b")
	if err != nil || removed != 1 {
		t.Fatalf("LRem removed=%d err=%v", removed, err)
	}

	rest, err := c.LRange(ctx, "list", 0, -1)
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	if len(rest) != 1 || rest[0] != "c" {
		t.Errorf("Expected [c], got %v", rest)
	}
}

func TestBRPopEmpty(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.BRPop(ctx, 10*time.Millisecond, "empty")
	if err != nil {
		t.Fatalf("BRPop on empty list: %v", err)
	}
	if ok {
		t.Error("Expected ok=false on timeout")
	}
}

func TestScan(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	keys := []string{"ss:task:1", "ss:task:2", "ss:task:3", "other:x"}
	for _, k := range keys {
		if err := c.Set(ctx, k, "{}", 0); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	var found []string
	err := c.Scan(ctx, "ss:task:*", func(key string) bool {
		found = append(found, key)
		return true
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	sort.Strings(found)
	if len(found) != 3 {
		t.Fatalf("Expected 3 keys, got %v", found)
	}

	// Early stop.
	count := 0
	err = c.Scan(ctx, "ss:task:*", func(string) bool {
		count++
		return count < 2
	})
	if err != nil {
		t.Fatalf("Scan early stop: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected iteration to stop at 2, got %d", count)
	}
}

func TestWatchConflict(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	if err := c.Set(ctx, "doc", "v1", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	err := c.Watch(ctx, func(tx *redis.Tx) error {
		if _, err := tx.Get(ctx, "doc").Result(); err != nil {
			return err
		}
		// Simulate a concurrent writer between read and EXEC.
		mr.Set("doc", "intruder")
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, "doc", "v2", 0)
			return nil
		})
		return err
	}, "doc")

	if !IsTxFailed(err) {
		t.Errorf("Expected tx conflict, got %v", err)
	}
	val, _, _ := c.Get(ctx, "doc")
	if val != "intruder" {
		t.Errorf("Conflicting write should win, got %q", val)
	}
}
