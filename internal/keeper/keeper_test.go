package keeper

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veilswap/veilswap/internal/domain"
)

// scriptedDriver walks a fixed sequence of phases and records calls.
type scriptedDriver struct {
	phase     domain.Phase
	ready     bool
	settleErr error
	advances  int
	settles   int
}

func (d *scriptedDriver) Phase(ctx context.Context) (domain.Phase, error) {
	return d.phase, nil
}

func (d *scriptedDriver) AdvancePhase(ctx context.Context) (domain.Batch, error) {
	if !d.ready {
		return domain.Batch{}, domain.ErrPhaseNotReady
	}
	d.advances++
	switch d.phase {
	case domain.PhaseCommit:
		d.phase = domain.PhaseReveal
	case domain.PhaseReveal:
		d.phase = domain.PhaseSettling
	}
	return domain.Batch{ID: 1, Phase: d.phase}, nil
}

func (d *scriptedDriver) SettleBatch(ctx context.Context) (domain.SettlementReport, error) {
	d.settles++
	if d.settleErr != nil {
		return domain.SettlementReport{}, d.settleErr
	}
	d.phase = domain.PhaseCommit
	return domain.SettlementReport{BatchID: 1}, nil
}

func newTestKeeper(d *scriptedDriver) *Keeper {
	return New(d, Options{
		PollInterval:        time.Millisecond,
		SettleRetryInterval: time.Hour,
	}, slog.New(slog.NewTextHandler(discard{}, nil)))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestTickAdvancesWhenReady(t *testing.T) {
	d := &scriptedDriver{phase: domain.PhaseCommit}
	k := newTestKeeper(d)

	k.tick(context.Background())
	require.Zero(t, d.advances, "advanced before the window elapsed")

	d.ready = true
	k.tick(context.Background())
	require.Equal(t, 1, d.advances)
	require.Equal(t, domain.PhaseReveal, d.phase)
}

func TestTickSettlesInSettlingPhase(t *testing.T) {
	d := &scriptedDriver{phase: domain.PhaseSettling}
	k := newTestKeeper(d)

	k.tick(context.Background())
	require.Equal(t, 1, d.settles)
	require.Equal(t, domain.PhaseCommit, d.phase)
}

func TestTickBacksOffAfterSettleFailure(t *testing.T) {
	d := &scriptedDriver{phase: domain.PhaseSettling, settleErr: errors.New("custody down")}
	k := newTestKeeper(d)

	k.tick(context.Background())
	require.Equal(t, 1, d.settles)
	require.Equal(t, domain.PhaseSettling, d.phase)

	// Within the retry interval the keeper does not hammer settlement.
	k.tick(context.Background())
	require.Equal(t, 1, d.settles)
}

// heldLock always reports the lock as taken by someone else.
type heldLock struct{}

func (heldLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestTickSkipsWithoutLock(t *testing.T) {
	d := &scriptedDriver{phase: domain.PhaseSettling}
	k := New(d, Options{
		PollInterval: time.Millisecond,
		Locks:        heldLock{},
	}, slog.New(slog.NewTextHandler(discard{}, nil)))

	k.tick(context.Background())
	require.Zero(t, d.settles)
}
