package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spken/mower-fleet/internal/metrics"
	"github.com/spken/mower-fleet/internal/protocol"
	"github.com/spken/mower-fleet/internal/telemetry"
)

// ErrInvalidTransition is returned when the requested action is not
// permitted from the device's current state.
var ErrInvalidTransition = errors.New("dispatch: action not permitted from current state")

// permittedActions maps each device state to the operator actions that
// may be dispatched while the device is in that state.
var permittedActions = map[protocol.DeviceState]map[string]bool{
	protocol.StateStationCharging:          {"start": true},
	protocol.StateStationChargingCompleted: {"start": true},
	protocol.StateMowing:                   {"stop": true, "home": true},
	protocol.StateReturningToStation:       {"stop": true},
	protocol.StatePaused:                   {"start": true, "home": true},
	protocol.StateError:                    {"ackerror": true},
}

// actionCommand maps an action name to the application command and body
// the Dispatcher sends, and the state the façade persists on success.
type actionCommand struct {
	cmd      byte
	body     []byte
	newState protocol.DeviceState
}

var actionCommands = map[string]actionCommand{
	"start":    {cmd: protocol.CmdControlDevice, body: []byte{protocol.ActionStart}, newState: protocol.StateMowing},
	"stop":     {cmd: protocol.CmdControlDevice, body: []byte{protocol.ActionStop}, newState: protocol.StatePaused},
	"home":     {cmd: protocol.CmdControlDevice, body: []byte{protocol.ActionHome}, newState: protocol.StateReturningToStation},
	"ackerror": {cmd: protocol.CmdAckError, body: nil, newState: protocol.StatePaused},
}

// Result is the outcome of one DispatchAction call: the state the
// device was in before the command was issued, the state it moved to,
// when that transition was recorded, and the device's own protocol
// reply to the command.
type Result struct {
	DeviceID      string
	Action        string
	PreviousState string
	NewState      string
	Timestamp     time.Time
	ProtocolReply protocol.ApplicationMessage
}

// Facade is the HTTP-facing entry point for operator actions: it checks
// the device's current state against the permitted-action table, routes
// the action through the Dispatcher, and persists the resulting state.
type Facade struct {
	dispatcher *Dispatcher
	cache      telemetry.Cache
	sink       telemetry.Sink
	metrics    *metrics.Metrics
}

func NewFacade(dispatcher *Dispatcher, cache telemetry.Cache, sink telemetry.Sink, m *metrics.Metrics) *Facade {
	return &Facade{dispatcher: dispatcher, cache: cache, sink: sink, metrics: m}
}

// DispatchAction validates the action against the device's cached state,
// sends it, and on success persists the expected new state.
func (f *Facade) DispatchAction(ctx context.Context, deviceID, action string) (Result, error) {
	ac, ok := actionCommands[action]
	if !ok {
		return Result{}, fmt.Errorf("dispatch: unknown action %q", action)
	}

	currentName, err := f.cache.GetState(ctx, deviceID)
	if err != nil {
		f.recordFailure(deviceID, action, "read_state")
		return Result{}, fmt.Errorf("dispatch: read cached state for %s: %w", deviceID, err)
	}
	current, ok := protocol.ParseDeviceState(currentName)
	if !ok || !permittedActions[current][action] {
		f.recordFailure(deviceID, action, "invalid_transition")
		return Result{}, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, currentName)
	}

	start := time.Now()
	reply, err := f.dispatcher.Dispatch(ctx, deviceID, ac.cmd, ac.body)
	if f.metrics != nil {
		f.metrics.DispatchDuration.WithLabelValues(deviceID, action).Observe(time.Since(start).Seconds())
	}
	result := Result{DeviceID: deviceID, Action: action, PreviousState: currentName, ProtocolReply: reply}
	if err != nil {
		f.recordFailure(deviceID, action, "device_error")
		return result, err
	}

	ts := time.Now()
	if err := f.sink.RecordState(deviceID, ac.newState.String(), ts); err != nil {
		f.recordFailure(deviceID, action, "persist_state")
		return result, fmt.Errorf("dispatch: persist new state for %s: %w", deviceID, err)
	}
	result.NewState = ac.newState.String()
	result.Timestamp = ts
	return result, nil
}

func (f *Facade) recordFailure(deviceID, action, reason string) {
	if f.metrics != nil {
		f.metrics.DispatchFailures.WithLabelValues(deviceID, action, reason).Inc()
	}
}
