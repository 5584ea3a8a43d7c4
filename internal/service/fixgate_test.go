package service

import (
	"testing"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixGateBudget(t *testing.T) {
	env := newTestEnv(t)
	gate := NewFixGate(env.store, env.alerts, 2)

	// Attempts are allowed while the logged count is at most the budget.
	for i := 0; i < 3; i++ {
		ok, err := gate.ShouldAttempt(env.ctx, 77, domain.CheckSmallReplay, domain.Extra{"size": 10})
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}

	ok, err := gate.ShouldAttempt(env.ctx, 77, domain.CheckSmallReplay, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, env.alerts.count())

	n, err := env.store.FixAttempts.Count(env.ctx, 77, domain.CheckSmallReplay)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Kinds are budgeted separately.
	ok, err = gate.ShouldAttempt(env.ctx, 77, domain.CheckMissingFile, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFixGateAlertNamesReplayAndKind(t *testing.T) {
	env := newTestEnv(t)
	gate := NewFixGate(env.store, env.alerts, 1)
	for i := 0; i < 2; i++ {
		_, err := env.store.FixAttempts.Log(env.ctx, 5, domain.CheckPlayerCountMismatch, nil)
		require.NoError(t, err)
	}

	ok, err := gate.ShouldAttempt(env.ctx, 5, domain.CheckPlayerCountMismatch, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	require.Equal(t, 1, env.alerts.count())
	a := env.alerts.alerts[0]
	assert.Contains(t, a.Message, "Replay 5")
	assert.Contains(t, a.Message, "PLAYER_COUNT_MISMATCH")
	assert.Equal(t, "PLAYER_COUNT_MISMATCH", a.Tags["check"])
}
