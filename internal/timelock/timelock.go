// Package timelock issues and evaluates puzzle-based release predicates
// that gate proof verification until a wall-clock threshold has passed.
//
// The puzzle hash is a tamper-evident reference over the bundle content,
// unlock time, and difficulty. Difficulty is stored for forward
// compatibility but only the unlock timestamp gates release; the authority
// is the timestamp comparison performed fresh on every evaluation, never a
// cached status.
package timelock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Puzzle status values. Status is advisory metadata only.
const (
	StatusLocked   = "locked"
	StatusUnlocked = "unlocked"
)

// Puzzle is a persisted time-lock record.
type Puzzle struct {
	UnlockAt   time.Time `json:"unlockAt"`
	PuzzleHash string    `json:"puzzleHash"`
	Difficulty int       `json:"difficulty"`
	Status     string    `json:"status"`
}

// Issue creates a locked puzzle over the given bundle content.
func Issue(content []byte, unlockAt time.Time, difficulty int) *Puzzle {
	return &Puzzle{
		UnlockAt:   unlockAt.UTC(),
		PuzzleHash: puzzleHash(content, unlockAt, difficulty),
		Difficulty: difficulty,
		Status:     StatusLocked,
	}
}

// Evaluate reports whether the puzzle is released at the given instant.
// The stored Status field is deliberately ignored so that clock adjustments
// cannot leave a stale "unlocked" truth behind.
func Evaluate(p *Puzzle, now time.Time) bool {
	if p == nil {
		return true
	}
	return !now.Before(p.UnlockAt)
}

// Matches reports whether the puzzle hash is consistent with the given
// content, detecting tampering with either the content or the lock terms.
func Matches(p *Puzzle, content []byte) bool {
	if p == nil {
		return true
	}
	return p.PuzzleHash == puzzleHash(content, p.UnlockAt, p.Difficulty)
}

func puzzleHash(content []byte, unlockAt time.Time, difficulty int) string {
	h := sha256.New()
	h.Write(content)
	fmt.Fprintf(h, "|%s|%d", unlockAt.UTC().Format(time.RFC3339Nano), difficulty)
	return hex.EncodeToString(h.Sum(nil))
}
