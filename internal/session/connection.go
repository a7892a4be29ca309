// Package session drives one accepted socket end to end: decode loop,
// handshake dispatch, and delegation to the command and notification
// handlers once (or before) authentication completes.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/spken/mower-fleet/internal/handshake"
	"github.com/spken/mower-fleet/internal/metrics"
	"github.com/spken/mower-fleet/internal/protocol"
	"github.com/spken/mower-fleet/internal/telemetry"
)

// DefaultInactivityTimeout destroys the socket if no bytes arrive for
// this long, when the caller doesn't have a configured value handy
// (e.g. in tests).
const DefaultInactivityTimeout = 2000 * time.Millisecond

// Connection owns one accepted socket's receive buffer, handshake state,
// and outbound write serialization.
type Connection struct {
	DeviceID string

	conn              net.Conn
	machine           *handshake.Machine
	sink              telemetry.Sink
	logger            *slog.Logger
	metrics           *metrics.Metrics
	inactivityTimeout time.Duration

	writeCh   chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnection wraps an accepted socket. Call Serve to run its lifecycle.
// inactivityTimeout is the configured listener.inactivity_timeout_ms; if
// zero, DefaultInactivityTimeout is used.
func NewConnection(deviceID string, conn net.Conn, sink telemetry.Sink, logger *slog.Logger, m *metrics.Metrics, inactivityTimeout time.Duration) *Connection {
	if inactivityTimeout == 0 {
		inactivityTimeout = DefaultInactivityTimeout
	}
	return &Connection{
		DeviceID:          deviceID,
		conn:              conn,
		machine:           handshake.NewMachine(context.Background()),
		sink:              sink,
		logger:            logger.With("device_id", deviceID),
		metrics:           m,
		inactivityTimeout: inactivityTimeout,
		writeCh:           make(chan []byte, 16),
		closed:            make(chan struct{}),
	}
}

// Serve runs the connection's read loop until the socket closes, the
// inactivity timeout fires, or ctx is cancelled. It blocks until the
// connection is fully torn down.
func (c *Connection) Serve(ctx context.Context) {
	defer c.Close()

	go c.writePump()

	c.logEvent(telemetry.SeverityInfo, "Connection_Attempt", "accepted connection")
	if c.metrics != nil {
		c.metrics.ConnectionsAccepted.WithLabelValues(c.DeviceID).Inc()
		c.metrics.ConnectionsActive.WithLabelValues(c.DeviceID).Inc()
		defer c.metrics.ConnectionsActive.WithLabelValues(c.DeviceID).Dec()
	}

	handshakeStart := time.Now()

	var rx []byte
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(c.inactivityTimeout)); err != nil {
			c.logEvent(telemetry.SeverityError, "Connection_Error", err.Error())
			return
		}

		n, err := c.conn.Read(readBuf)
		if n > 0 {
			rx = append(rx, readBuf[:n]...)
		}
		if err != nil {
			c.handleReadError(err)
			return
		}

		for {
			payload, consumed, derr := protocol.DecodeFrame(rx)
			if derr == protocol.ErrIncomplete {
				break
			}
			if derr != nil {
				c.logEvent(telemetry.SeverityError, "Invalid_Frame", derr.Error())
				if c.metrics != nil {
					c.metrics.FrameDecodeErrors.WithLabelValues(c.DeviceID, derr.Error()).Inc()
				}
				rx = rx[:0]
				break
			}
			rx = rx[consumed:]
			if c.metrics != nil {
				c.metrics.FramesDecoded.WithLabelValues(c.DeviceID).Inc()
			}
			wasAuthenticated := c.machine.IsAuthenticated()
			c.handlePayload(payload)
			if !wasAuthenticated && c.machine.IsAuthenticated() && c.metrics != nil {
				c.metrics.HandshakeDuration.WithLabelValues(c.DeviceID).Observe(time.Since(handshakeStart).Seconds())
			}
			if c.machine.Phase() == handshake.PhaseClosed {
				return
			}
		}
	}
}

func (c *Connection) handleReadError(err error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.logEvent(telemetry.SeverityWarn, "Connection_Timeout", "no bytes received within inactivity window")
		return
	}
	if errors.Is(err, io.EOF) {
		c.logEvent(telemetry.SeverityInfo, "Connection_Closed", "peer closed the connection")
		return
	}
	c.logEvent(telemetry.SeverityError, "Connection_Error", err.Error())
}

func (c *Connection) handlePayload(payload []byte) {
	sess, err := protocol.UnpackSession(payload)
	if err != nil {
		c.logEvent(telemetry.SeverityError, "Invalid_Frame", err.Error())
		return
	}

	switch sess.Type {
	case protocol.SessionTypeHello:
		c.handleHello(sess)
	case protocol.SessionTypeClientAuth:
		c.handleClientAuth(sess)
	case protocol.SessionTypeRegular:
		if !c.machine.IsAuthenticated() && sess.HMAC != protocol.BypassHMAC {
			c.logEvent(telemetry.SeverityWarn, "Unauthenticated_Message", "REGULAR before Authenticated, HMAC not bypass")
			return
		}
		c.handleCommand(sess)
	case protocol.SessionTypeNotification:
		// Notification-only connections are never gated on phase.
		c.handleNotification(sess.Body)
	default:
		c.logEvent(telemetry.SeverityWarn, "Unknown_Message_Type", "unrecognized session type byte")
	}
}

func (c *Connection) handleHello(sess protocol.SessionMessage) {
	challenge, err := c.machine.HandleHello(sess.Body)
	if err != nil {
		c.logEvent(telemetry.SeverityError, "Auth_Failed", err.Error())
		if c.metrics != nil {
			c.metrics.HandshakeFailures.WithLabelValues(c.DeviceID, "hello").Inc()
		}
		c.Close()
		return
	}
	wrapped := protocol.PackPresentation(0, challenge)
	c.send(protocol.SessionTypeChallenge, wrapped, 0)
	c.logEvent(telemetry.SeverityInfo, "Auth_Challenge_Sent", "challenge sent")
}

func (c *Connection) handleClientAuth(sess protocol.SessionMessage) {
	if err := c.machine.HandleClientAuth(sess.Body); err != nil {
		c.logEvent(telemetry.SeverityError, "Auth_Failed", err.Error())
		if c.metrics != nil {
			c.metrics.HandshakeFailures.WithLabelValues(c.DeviceID, "client_auth").Inc()
		}
		c.Close()
		return
	}
	c.logEvent(telemetry.SeverityInfo, "Auth_Success", "handshake complete")
}

// send builds a session message and queues it on the writer goroutine.
// hmac should be the response's authenticated HMAC, or the bypass
// constant when the request arrived with the bypass HMAC.
func (c *Connection) send(msgType byte, body []byte, hmac uint32) {
	session := protocol.PackSession(msgType, body, hmac)
	frame, err := protocol.EncodeFrame(session)
	if err != nil {
		c.logEvent(telemetry.SeverityError, "Connection_Error", err.Error())
		return
	}
	select {
	case c.writeCh <- frame:
	case <-c.closed:
	}
}

func (c *Connection) writePump() {
	for {
		select {
		case frame, ok := <-c.writeCh:
			if !ok {
				return
			}
			if _, err := c.conn.Write(frame); err != nil {
				c.logEvent(telemetry.SeverityError, "Connection_Error", err.Error())
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) logEvent(severity telemetry.Severity, eventType, message string) {
	switch severity {
	case telemetry.SeverityError:
		c.logger.Error(message, "event_type", eventType)
	case telemetry.SeverityWarn:
		c.logger.Warn(message, "event_type", eventType)
	default:
		c.logger.Info(message, "event_type", eventType)
	}
	if c.sink != nil {
		if err := c.sink.RecordLog(c.DeviceID, severity, eventType, message, time.Now()); err != nil {
			c.logger.Error("telemetry sink RecordLog failed", "error", err)
		}
	}
}

// Close tears the connection down exactly once: stops the writer, closes
// the socket and the handshake machine, and logs Connection_Closed.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
		c.machine.Close()
		c.logEvent(telemetry.SeverityInfo, "Connection_Closed", "connection torn down")
	})
}
