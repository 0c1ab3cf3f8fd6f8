package domain

import "time"

// Phase is the position of a batch in its commit/reveal/settle lifecycle.
type Phase string

const (
	PhaseCommit   Phase = "commit"
	PhaseReveal   Phase = "reveal"
	PhaseSettling Phase = "settling"
)

// Batch is one auction round. Exactly one batch is current at any time; its
// identity never changes after creation and a successor is created the moment
// settlement completes.
type Batch struct {
	ID           uint64
	Phase        Phase
	PhaseStart   time.Time
	CommitWindow time.Duration
	RevealWindow time.Duration
	CreatedAt    time.Time
	SettledAt    *time.Time
}

// CommitDeadline returns the instant after which commits are no longer
// accepted for this batch.
func (b Batch) CommitDeadline() time.Time {
	return b.PhaseStart.Add(b.CommitWindow)
}

// RevealDeadline returns the instant after which reveals are no longer
// accepted. Only meaningful once the batch has entered the reveal phase.
func (b Batch) RevealDeadline() time.Time {
	return b.PhaseStart.Add(b.RevealWindow)
}
