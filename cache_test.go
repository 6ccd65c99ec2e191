package guard

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDecisionCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryDecisionCache()
	dec := &AccessDecision{Decision: DecisionAllow, Reason: "PermittedByPermission"}

	if err := c.Set(ctx, "k1", dec, 50*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok := c.Get(ctx, "k1")
	if !ok || got.Decision != DecisionAllow {
		t.Fatalf("expected hit, got %v %v", got, ok)
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get(ctx, "k1"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestMemoryDecisionCachePurge(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryDecisionCache()
	for _, k := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, k, &AccessDecision{Decision: DecisionDeny}, time.Minute); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := c.Purge(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if _, ok := c.Get(ctx, k); ok {
			t.Fatalf("expected %s to be gone after purge", k)
		}
	}
}

func TestCacheKeyStability(t *testing.T) {
	ctxA := map[string]any{"channel": "api", "mfa": true}
	ctxB := map[string]any{"mfa": true, "channel": "api"}
	if cacheKey("s", "r", "READ", ctxA) != cacheKey("s", "r", "READ", ctxB) {
		t.Fatalf("key must not depend on map iteration order")
	}
	if cacheKey("s", "r", "READ", ctxA) == cacheKey("s", "r", "READ", nil) {
		t.Fatalf("different contexts must produce different keys")
	}
	if cacheKey("s", "r", "READ", nil) == cacheKey("s", "r", "WRITE", nil) {
		t.Fatalf("different actions must produce different keys")
	}
	if cacheKey("s", "r", "READ", nil) == cacheKey("s2", "r", "READ", nil) {
		t.Fatalf("different subjects must produce different keys")
	}
}
