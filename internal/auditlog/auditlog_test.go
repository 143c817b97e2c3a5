package auditlog_test

import (
	"context"
	"testing"

	"github.com/consentgrid/proofengine/internal/auditlog"
)

var ctx = context.Background()

func TestNew_genesisEntry(t *testing.T) {
	l := auditlog.New()

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis entry, got %d", n)
	}

	entry, err := l.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Event != "genesis" {
		t.Errorf("expected event 'genesis', got %q", entry.Event)
	}
	if entry.Hash != auditlog.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", entry.Hash)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := auditlog.New()

	e1, err := l.Append(ctx, "pb_1", auditlog.EventBundleGenerated, "tenant-a", map[string]string{"subjectId": "s1"})
	if err != nil {
		t.Fatal(err)
	}

	e2, err := l.Append(ctx, "pb_1", auditlog.EventBundleVerified, "proof-engine", nil)
	if err != nil {
		t.Fatal(err)
	}

	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 { // genesis + 2
		t.Errorf("expected 3 entries, got %d", n)
	}
}

func TestVerify_intactChain(t *testing.T) {
	l := auditlog.New()
	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, "pb_1", auditlog.EventBundleVerified, "proof-engine", map[string]int{"i": i}); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Verify(ctx); err != nil {
		t.Errorf("intact chain failed verification: %v", err)
	}
}

func TestGet_returnsCopy(t *testing.T) {
	l := auditlog.New()
	if _, err := l.Append(ctx, "pb_1", auditlog.EventBundleGenerated, "tenant-a", nil); err != nil {
		t.Fatal(err)
	}

	entry, err := l.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	entry.Actor = "intruder"

	if err := l.Verify(ctx); err != nil {
		t.Errorf("mutating a Get result corrupted the chain: %v", err)
	}
	again, err := l.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if again.Actor == "intruder" {
		t.Error("Get exposed internal entry state")
	}
}

func TestRoot_tracksTip(t *testing.T) {
	l := auditlog.New()
	root0, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root0 != auditlog.GenesisHash {
		t.Errorf("fresh log root = %q, want genesis", root0)
	}

	e, err := l.Append(ctx, "pb_2", auditlog.EventBundleEncrypted, "tenant-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	root1, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root1 != e.Hash {
		t.Errorf("root = %q, want tip hash %q", root1, e.Hash)
	}
}
