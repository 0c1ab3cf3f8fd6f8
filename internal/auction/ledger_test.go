package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veilswap/veilswap/internal/domain"
)

func TestLedgerResolveForwardOnly(t *testing.T) {
	l := NewLedger()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// A never-revealed commitment can only be slashed or expired.
	unrevealed := l.Append("alice", "0xaa", 1_000, 1, now)
	require.ErrorIs(t, l.Resolve(unrevealed.CommitID, domain.CommitStatusSettled, now), domain.ErrWrongPhase)
	require.NoError(t, l.Resolve(unrevealed.CommitID, domain.CommitStatusSlashed, now))

	// Terminal statuses never move again.
	require.ErrorIs(t, l.Resolve(unrevealed.CommitID, domain.CommitStatusSettled, now), domain.ErrWrongPhase)
	require.ErrorIs(t, l.Resolve(unrevealed.CommitID, domain.CommitStatusCommitted, now), domain.ErrWrongPhase)

	// A revealed commitment settles, or keeps REVEALED when skipped; it is
	// never slashed.
	revealed := l.Append("bob", "0xbb", 1_000, 1, now)
	require.NoError(t, l.MarkRevealed(revealed.CommitID, now))
	require.ErrorIs(t, l.Resolve(revealed.CommitID, domain.CommitStatusSlashed, now), domain.ErrWrongPhase)
	require.NoError(t, l.Resolve(revealed.CommitID, domain.CommitStatusSettled, now))
	require.ErrorIs(t, l.Resolve(revealed.CommitID, domain.CommitStatusRevealed, now), domain.ErrWrongPhase)

	skipped := l.Append("carol", "0xcc", 1_000, 1, now)
	require.NoError(t, l.MarkRevealed(skipped.CommitID, now))
	require.NoError(t, l.Resolve(skipped.CommitID, domain.CommitStatusRevealed, now))

	require.ErrorIs(t, l.Resolve(99, domain.CommitStatusSettled, now), domain.ErrUnknownCommitment)
}
