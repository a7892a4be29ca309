package session

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/spken/mower-fleet/internal/protocol"
	"github.com/spken/mower-fleet/internal/telemetry"
)

// handleNotification processes a NOTIFICATION session message's body.
// Notifications bypass the authentication phase gate entirely; callers
// must not call this for unauthenticated REGULAR traffic.
func (c *Connection) handleNotification(body []byte) {
	if len(body) < 1 {
		c.logEvent(telemetry.SeverityWarn, "Unknown_Notification", "empty notification body")
		return
	}
	ntype := body[0]
	rest := body[1:]

	if c.metrics != nil {
		c.metrics.NotificationsHandled.WithLabelValues(c.DeviceID, notificationName(ntype)).Inc()
	}

	switch ntype {
	case protocol.NotifyDeviceStatus:
		c.handleDeviceStatus(rest)
	case protocol.NotifyPositionUpdate:
		c.handlePositionUpdate(rest)
	default:
		c.logEvent(telemetry.SeverityWarn, "Unknown_Notification", "unrecognized notification type byte")
	}
}

// handleDeviceStatus parses battery_half_percent[1] | blade_seconds[4 BE] | state_code[1].
func (c *Connection) handleDeviceStatus(rest []byte) {
	if len(rest) < 6 {
		c.logEvent(telemetry.SeverityWarn, "Status_Update", "device status body too short, dropped")
		return
	}
	now := time.Now()
	batteryPercent := float64(rest[0]) / 2.0
	bladeSeconds := binary.BigEndian.Uint32(rest[1:5])
	state := protocol.DeviceState(rest[5])

	if err := c.sink.RecordBattery(c.DeviceID, batteryPercent, now); err != nil {
		c.sinkError("RecordBattery", err)
	}
	if err := c.sink.RecordState(c.DeviceID, state.String(), now); err != nil {
		c.sinkError("RecordState", err)
	}
	// No dedicated sink method carries blade_seconds; fold it into the log
	// record rather than drop it.
	if err := c.sink.RecordLog(c.DeviceID, telemetry.SeverityInfo, "Status_Update", fmt.Sprintf("blade_seconds=%d", bladeSeconds), now); err != nil {
		c.sinkError("RecordLog", err)
	}

	c.logEvent(telemetry.SeverityInfo, "Status_Update", fmt.Sprintf("battery=%.1f%% state=%s blade_seconds=%d", batteryPercent, state.String(), bladeSeconds))
}

// handlePositionUpdate parses unix_seconds[4 BE] | latitude[4 BE float32] | longitude[4 BE float32].
func (c *Connection) handlePositionUpdate(rest []byte) {
	if len(rest) < 12 {
		c.logEvent(telemetry.SeverityWarn, "Position_Update", "position update body too short, dropped")
		return
	}
	unixSeconds := binary.BigEndian.Uint32(rest[0:4])
	latitude := math.Float32frombits(binary.BigEndian.Uint32(rest[4:8]))
	longitude := math.Float32frombits(binary.BigEndian.Uint32(rest[8:12]))
	ts := time.Unix(int64(unixSeconds), 0)

	if err := c.sink.RecordPosition(c.DeviceID, float64(latitude), float64(longitude), ts); err != nil {
		c.sinkError("RecordPosition", err)
	}
	c.logEvent(telemetry.SeverityInfo, "Position_Update", fmt.Sprintf("lat=%.6f lon=%.6f", latitude, longitude))
}

func notificationName(ntype byte) string {
	switch ntype {
	case protocol.NotifyDeviceStatus:
		return "device_status"
	case protocol.NotifyPositionUpdate:
		return "position_update"
	default:
		return "unknown"
	}
}
