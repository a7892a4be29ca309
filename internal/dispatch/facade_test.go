package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spken/mower-fleet/internal/protocol"
	"github.com/spken/mower-fleet/internal/telemetry"
)

func TestDispatchAction_RejectsTransitionsNotInPreconditionTable(t *testing.T) {
	cache := telemetry.NewMemoryCache()
	require.NoError(t, cache.SetState(context.Background(), "mower-1", "Mowing", time.Now()))

	f := NewFacade(nil, cache, telemetry.NewMemorySink(), nil)

	_, err := f.DispatchAction(context.Background(), "mower-1", "start")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDispatchAction_RejectsWhenNoCachedState(t *testing.T) {
	cache := telemetry.NewMemoryCache()
	f := NewFacade(nil, cache, telemetry.NewMemorySink(), nil)

	_, err := f.DispatchAction(context.Background(), "mower-1", "start")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDispatchAction_RejectsUnparseableCachedState(t *testing.T) {
	cache := telemetry.NewMemoryCache()
	require.NoError(t, cache.SetState(context.Background(), "mower-1", "garbage", time.Now()))

	f := NewFacade(nil, cache, telemetry.NewMemorySink(), nil)

	_, err := f.DispatchAction(context.Background(), "mower-1", "start")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDispatchAction_PermitsKnownTransitions(t *testing.T) {
	cases := []struct {
		state  string
		action string
	}{
		{"StationCharging", "start"},
		{"StationChargingCompleted", "start"},
		{"Mowing", "stop"},
		{"Mowing", "home"},
		{"ReturningToStation", "stop"},
		{"Paused", "start"},
		{"Paused", "home"},
		{"Error", "ackerror"},
	}

	for _, tc := range cases {
		current, ok := protocol.ParseDeviceState(tc.state)
		require.True(t, ok, "state %s should parse", tc.state)
		require.True(t, permittedActions[current][tc.action], "expected %s permitted from %s", tc.action, tc.state)
	}
}

func TestDispatchAction_UnknownActionRejected(t *testing.T) {
	cache := telemetry.NewMemoryCache()
	f := NewFacade(nil, cache, telemetry.NewMemorySink(), nil)

	_, err := f.DispatchAction(context.Background(), "mower-1", "flyaway")
	require.Error(t, err)
}
