package session

import (
	"time"

	dcrypto "github.com/spken/mower-fleet/internal/crypto"
	"github.com/spken/mower-fleet/internal/protocol"
	"github.com/spken/mower-fleet/internal/telemetry"
)

// actionToState maps a ControlDevice action byte to the state it persists.
var actionToState = map[byte]protocol.DeviceState{
	protocol.ActionStop:  protocol.StatePaused,
	protocol.ActionStart: protocol.StateMowing,
	protocol.ActionHome:  protocol.StateReturningToStation,
}

func (c *Connection) handleCommand(sess protocol.SessionMessage) {
	pres, err := protocol.UnpackPresentation(sess.Body)
	if err != nil {
		c.logEvent(telemetry.SeverityError, "Invalid_Frame", err.Error())
		return
	}
	app, err := protocol.UnpackApplication(pres.App)
	if err != nil {
		c.logEvent(telemetry.SeverityError, "Invalid_Frame", err.Error())
		return
	}

	if c.metrics != nil {
		c.metrics.CommandsHandled.WithLabelValues(c.DeviceID, commandName(app.Command)).Inc()
	}

	switch app.Command {
	case protocol.CmdHeartbeat:
		c.respond(sess, pres.IIN, protocol.ResponseOf(app.Command), app.Body)
		c.logEvent(telemetry.SeverityInfo, "Heartbeat_Response", "echoed heartbeat body")

	case protocol.CmdControlDevice:
		if len(app.Body) < 1 {
			c.respondError(sess, pres.IIN, "Invalid control command")
			return
		}
		state, ok := actionToState[app.Body[0]]
		if !ok {
			c.respondError(sess, pres.IIN, "Invalid control command")
			return
		}
		c.recordState(state)
		c.respond(sess, pres.IIN, protocol.ResponseOf(app.Command), nil)
		c.logEvent(telemetry.SeverityInfo, "Control_Command", "persisted state "+state.String())

	case protocol.CmdAckError:
		c.recordState(protocol.StatePaused)
		c.respond(sess, pres.IIN, protocol.ResponseOf(app.Command), nil)
		c.logEvent(telemetry.SeverityInfo, "Ack_Error", "acknowledged device error, state set to Paused")

	case protocol.CmdResetBladeTime:
		if err := c.sink.RecordBladeReset(c.DeviceID, time.Now()); err != nil {
			c.sinkError("RecordBladeReset", err)
		}
		c.respond(sess, pres.IIN, protocol.ResponseOf(app.Command), nil)
		c.logEvent(telemetry.SeverityInfo, "Reset_Blade_Time", "blade time reset acknowledged")

	default:
		c.logEvent(telemetry.SeverityWarn, "Unknown_Command", "unrecognized command byte")
	}
}

func (c *Connection) recordState(state protocol.DeviceState) {
	if err := c.sink.RecordState(c.DeviceID, state.String(), time.Now()); err != nil {
		c.sinkError("RecordState", err)
	}
}

func (c *Connection) sinkError(call string, err error) {
	if c.metrics != nil {
		c.metrics.SinkErrors.WithLabelValues(c.DeviceID, call).Inc()
	}
	c.logEvent(telemetry.SeverityError, "Sink_Error", call+": "+err.Error())
}

// respond sends a response sharing the request's IIN, HMAC'd with the
// connection's shared secret unless the request itself used the bypass
// constant, in which case the response echoes it.
func (c *Connection) respond(req protocol.SessionMessage, iin uint16, respCmd byte, body []byte) {
	app := protocol.PackApplication(respCmd, body)
	presentation := protocol.PackPresentation(iin, app)

	hmac := req.HMAC
	if hmac != protocol.BypassHMAC {
		hmac = dcrypto.AuthenticatedHMAC(c.machine.SharedSecret(), presentation)
	}
	c.send(protocol.SessionTypeRegular, presentation, hmac)
}

func (c *Connection) respondError(req protocol.SessionMessage, iin uint16, message string) {
	c.respond(req, iin, protocol.CmdError, []byte(message))
}

func commandName(cmd byte) string {
	switch cmd {
	case protocol.CmdHeartbeat:
		return "heartbeat"
	case protocol.CmdControlDevice:
		return "control_device"
	case protocol.CmdAckError:
		return "ack_error"
	case protocol.CmdResetBladeTime:
		return "reset_blade_time"
	default:
		return "unknown"
	}
}
