// Package auction implements the commit/reveal batch auction engine: the
// phase clock, the commitment ledger, reveal validation, uniform-price
// clearing, the seeded execution shuffle, and batch settlement.
package auction

import (
	"time"

	"github.com/veilswap/veilswap/internal/domain"
)

// Clock is the batch phase pointer. It advances only when the configured
// window for the current phase has elapsed; anyone may drive it, so liveness
// never depends on a trusted operator. The Clock itself is not safe for
// concurrent use — the Manager serialises access.
type Clock struct {
	current      domain.Batch
	commitWindow time.Duration
	revealWindow time.Duration
}

// NewClock creates a Clock with batch 1 open for commits as of startAt.
func NewClock(commitWindow, revealWindow time.Duration, startAt time.Time) *Clock {
	return &Clock{
		current:      newBatch(1, commitWindow, revealWindow, startAt),
		commitWindow: commitWindow,
		revealWindow: revealWindow,
	}
}

func newBatch(id uint64, commitWindow, revealWindow time.Duration, at time.Time) domain.Batch {
	return domain.Batch{
		ID:           id,
		Phase:        domain.PhaseCommit,
		PhaseStart:   at,
		CommitWindow: commitWindow,
		RevealWindow: revealWindow,
		CreatedAt:    at,
	}
}

// Current returns the current batch.
func (c *Clock) Current() domain.Batch {
	return c.current
}

// Advance moves COMMIT to REVEAL or REVEAL to SETTLING once the respective
// window has elapsed. Calling it early fails with ErrPhaseNotReady and has no
// side effects, so racing callers are harmless. The SETTLING phase is exited
// through Rotate, never Advance.
func (c *Clock) Advance(now time.Time) (domain.Batch, error) {
	switch c.current.Phase {
	case domain.PhaseCommit:
		if now.Before(c.current.CommitDeadline()) {
			return domain.Batch{}, domain.ErrPhaseNotReady
		}
		c.current.Phase = domain.PhaseReveal
		c.current.PhaseStart = now
	case domain.PhaseReveal:
		if now.Before(c.current.RevealDeadline()) {
			return domain.Batch{}, domain.ErrPhaseNotReady
		}
		c.current.Phase = domain.PhaseSettling
		c.current.PhaseStart = now
	case domain.PhaseSettling:
		// Settlement completes the cycle; advancing past it is settleBatch's job.
		return domain.Batch{}, domain.ErrWrongPhase
	}
	return c.current, nil
}

// Rotate closes the settling batch and opens its successor in COMMIT. It is
// called exactly once per batch, by settlement.
func (c *Clock) Rotate(now time.Time) domain.Batch {
	c.current = newBatch(c.current.ID+1, c.commitWindow, c.revealWindow, now)
	return c.current
}
