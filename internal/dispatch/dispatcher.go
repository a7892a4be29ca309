// Package dispatch implements the operator-facing side of the protocol:
// opening a fresh loopback connection to a device's own listener port,
// performing the client-side handshake, and exchanging one command for
// one reply. This mirrors the toy device firmware's own connection
// pattern — the backend never reuses a device's live session to issue a
// command, it dials in as a second client just like the device did.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	dcrypto "github.com/spken/mower-fleet/internal/crypto"
	"github.com/spken/mower-fleet/internal/handshake"
	"github.com/spken/mower-fleet/internal/protocol"
	"github.com/spken/mower-fleet/internal/registry"
)

// ErrDeviceNotProvisioned is returned when the target device id has no
// registry entry.
var ErrDeviceNotProvisioned = errors.New("dispatch: device not provisioned")

const (
	dialTimeout = 10 * time.Second
	// closeGrace is how long the dispatcher waits after shutting down its
	// write half before fully closing the socket, giving the listener
	// side a chance to notice EOF and tear down on its own terms.
	closeGrace   = 50 * time.Millisecond
	replyTimeout = 5 * time.Second
)

// Dispatcher issues one application command per call against a
// provisioned device's listener port.
type Dispatcher struct {
	provider         registry.Provider
	handshakeTimeout time.Duration
	iin              uint16
}

// New builds a Dispatcher. handshakeTimeout bounds the client-side
// handshake run against a device's own listener port, sourced from the
// backend's handshake config rather than hardcoded here.
func New(provider registry.Provider, handshakeTimeout time.Duration) *Dispatcher {
	return &Dispatcher{provider: provider, handshakeTimeout: handshakeTimeout}
}

// Dispatch dials the device's own listener, authenticates as a fresh
// client, sends one application command, and returns the device's reply.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, cmd byte, body []byte) (protocol.ApplicationMessage, error) {
	device, err := d.provider.Get(ctx, deviceID)
	if err != nil {
		return protocol.ApplicationMessage{}, fmt.Errorf("dispatch: lookup device %s: %w", deviceID, err)
	}
	if device == nil {
		return protocol.ApplicationMessage{}, fmt.Errorf("%w: %s", ErrDeviceNotProvisioned, deviceID)
	}

	addr := fmt.Sprintf("localhost:%d", device.Port)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return protocol.ApplicationMessage{}, fmt.Errorf("dispatch: dial %s: %w", addr, err)
	}
	defer closeWithGrace(conn)

	sharedSecret, err := handshake.ClientHandshake(conn, d.handshakeTimeout)
	if err != nil {
		return protocol.ApplicationMessage{}, fmt.Errorf("dispatch: handshake with %s: %w", deviceID, err)
	}

	d.iin++
	app := protocol.PackApplication(cmd, body)
	presentation := protocol.PackPresentation(d.iin, app)
	hmac := dcrypto.AuthenticatedHMAC(sharedSecret, presentation)

	frame, err := protocol.EncodeFrame(protocol.PackSession(protocol.SessionTypeRegular, presentation, hmac))
	if err != nil {
		return protocol.ApplicationMessage{}, fmt.Errorf("dispatch: encode command frame: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return protocol.ApplicationMessage{}, fmt.Errorf("dispatch: send command to %s: %w", deviceID, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(replyTimeout))
	sess, err := readOneFrame(conn)
	if err != nil {
		return protocol.ApplicationMessage{}, fmt.Errorf("dispatch: await reply from %s: %w", deviceID, err)
	}
	if sess.Type != protocol.SessionTypeRegular {
		return protocol.ApplicationMessage{}, fmt.Errorf("dispatch: unexpected reply session type 0x%02X", sess.Type)
	}

	replyPres, err := protocol.UnpackPresentation(sess.Body)
	if err != nil {
		return protocol.ApplicationMessage{}, fmt.Errorf("dispatch: unpack reply presentation: %w", err)
	}
	replyApp, err := protocol.UnpackApplication(replyPres.App)
	if err != nil {
		return protocol.ApplicationMessage{}, fmt.Errorf("dispatch: unpack reply application: %w", err)
	}
	if replyApp.Command == protocol.CmdError {
		return replyApp, fmt.Errorf("dispatch: device %s rejected command: %s", deviceID, string(replyApp.Body))
	}
	return replyApp, nil
}

// closeWithGrace shuts down the write half first, then waits closeGrace
// before fully closing the socket, matching the firmware's own shutdown
// sequence: the device half-closes and the listener side notices EOF on
// its next read before the connection disappears underneath it.
func closeWithGrace(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
		time.Sleep(closeGrace)
	}
	_ = conn.Close()
}

func readOneFrame(conn net.Conn) (protocol.SessionMessage, error) {
	var buf []byte
	chunk := make([]byte, 256)
	for {
		if payload, _, err := protocol.DecodeFrame(buf); err == nil {
			return protocol.UnpackSession(payload)
		} else if err != protocol.ErrIncomplete {
			return protocol.SessionMessage{}, err
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return protocol.SessionMessage{}, err
		}
	}
}
