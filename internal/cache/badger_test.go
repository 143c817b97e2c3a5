package cache_test

import (
	"testing"
	"time"

	"github.com/consentgrid/proofengine/internal/cache"
	"go.uber.org/zap"
)

func newBadger(t *testing.T) *cache.Badger {
	t.Helper()
	c, err := cache.NewBadger(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck
	return c
}

func TestBadger_setGetDelete(t *testing.T) {
	c := newBadger(t)

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

func TestBadger_missingKey(t *testing.T) {
	c := newBadger(t)
	if _, ok := c.Get(ctx, "nothing"); ok {
		t.Error("missing key returned a hit")
	}
}

func TestBadger_ttlExpiry(t *testing.T) {
	c := newBadger(t)
	c.Set(ctx, "k", []byte("v"), time.Second)

	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(1100 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expired entry still served")
	}
}
