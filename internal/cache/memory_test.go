package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/consentgrid/proofengine/internal/cache"
)

var ctx = context.Background()

func TestMemory_setGetDelete(t *testing.T) {
	c := cache.NewMemory()

	if _, ok := c.Get(ctx, "proof:pb_1"); ok {
		t.Error("empty cache returned a hit")
	}

	c.Set(ctx, "proof:pb_1", []byte("view"), time.Minute)
	got, ok := c.Get(ctx, "proof:pb_1")
	if !ok || string(got) != "view" {
		t.Errorf("got %q, ok=%v", got, ok)
	}

	c.Delete(ctx, "proof:pb_1")
	if _, ok := c.Get(ctx, "proof:pb_1"); ok {
		t.Error("deleted key still present")
	}
}

func TestMemory_ttlExpiry(t *testing.T) {
	c := cache.NewMemory()
	c.Set(ctx, "k", []byte("v"), 10*time.Millisecond)

	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expired entry still served")
	}
}

func TestMemory_evict(t *testing.T) {
	c := cache.NewMemory()
	c.Set(ctx, "stale", []byte("v"), time.Nanosecond)
	c.Set(ctx, "fresh", []byte("v"), time.Hour)
	time.Sleep(time.Millisecond)

	if n := c.Evict(); n != 1 {
		t.Errorf("evicted %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestMemory_valueIsCopied(t *testing.T) {
	c := cache.NewMemory()
	buf := []byte("original")
	c.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'X'

	got, _ := c.Get(ctx, "k")
	if string(got) != "original" {
		t.Errorf("cached value aliased caller buffer: %q", got)
	}
}
