package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryLog is an in-memory, thread-safe Log implementation. It is
// primarily useful for testing and for single-process deployments that do
// not require durable persistence across restarts.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*Entry
}

// New creates a MemoryLog initialised with the canonical genesis entry.
// The genesis entry is at index 0 and its hash is GenesisHash.
func New() *MemoryLog {
	l := &MemoryLog{}
	genesis := &Entry{
		Index:     0,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Event:     "genesis",
		Actor:     "proof-engine",
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash, // genesis hash is the well-known constant, not computed
	}
	l.entries = append(l.entries, genesis)
	return l
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, bundleID, event, actor string, payload any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	dataHash := sha256Sum(payloadJSON)
	prev := l.entries[len(l.entries)-1]

	// timestamptz stores microseconds; hash only what survives a round trip
	// through postgres so Verify recomputes the same value after a reload.
	entry := &Entry{
		Index:     len(l.entries),
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		BundleID:  bundleID,
		Event:     event,
		Actor:     actor,
		DataHash:  dataHash,
		PrevHash:  prev.Hash,
	}
	entry.Hash = hashEntry(entry)
	l.entries = append(l.entries, entry)
	return entry, nil
}

// Get implements Log. The returned entry is a copy; mutating it does not
// affect the chain.
func (l *MemoryLog) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	e := *l.entries[index]
	return &e, nil
}

// Len implements Log.
func (l *MemoryLog) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Verify implements Log. It walks the chain and checks that all hashes are
// consistent. The genesis entry (index 0) is validated against GenesisHash.
func (l *MemoryLog) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, curr := range l.entries {
		if i == 0 {
			// Genesis: must equal the well-known constant.
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			continue
		}

		prev := l.entries[i-1]
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
	}
	return nil
}

// Root implements Log.
func (l *MemoryLog) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return "", nil
	}
	return l.entries[len(l.entries)-1].Hash, nil
}
