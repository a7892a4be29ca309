package session

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dcrypto "github.com/spken/mower-fleet/internal/crypto"
	"github.com/spken/mower-fleet/internal/handshake"
	"github.com/spken/mower-fleet/internal/protocol"
	"github.com/spken/mower-fleet/internal/telemetry"
)

// discardLogger keeps test output quiet.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// setup dials a real connection (net.Pipe won't satisfy SetReadDeadline
// semantics the server loop relies on) and runs the client-side
// handshake, returning the client conn and derived shared secret.
func setupAuthenticated(t *testing.T, sink telemetry.Sink) (net.Conn, uint32, *Connection) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		serverConnCh <- c
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	serverConn := <-serverConnCh
	conn := NewConnection("mower-1", serverConn, sink, discardLogger(), nil, 0)
	go conn.Serve(context.Background())

	shared, err := handshake.ClientHandshake(clientConn, 2*time.Second)
	require.NoError(t, err)

	// give the server's handlePayload a moment to flip to Authenticated
	time.Sleep(20 * time.Millisecond)

	return clientConn, shared, conn
}

func readSessionReply(t *testing.T, r net.Conn) protocol.SessionMessage {
	t.Helper()
	_ = r.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rx []byte
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		require.NoError(t, err)
		rx = append(rx, buf[:n]...)
		payload, _, derr := protocol.DecodeFrame(rx)
		if derr == protocol.ErrIncomplete {
			continue
		}
		require.NoError(t, derr)
		sess, err := protocol.UnpackSession(payload)
		require.NoError(t, err)
		return sess
	}
}

func TestControlCommand_StartMowing(t *testing.T) {
	sink := telemetry.NewMemorySink()
	clientConn, shared, _ := setupAuthenticated(t, sink)
	defer clientConn.Close()

	presentation := []byte{0x00, 0x01, 0x01, 0x01} // IIN=1, cmd=ControlDevice, body=Start
	hmac := dcrypto.AuthenticatedHMAC(shared, presentation)
	frame, err := protocol.EncodeFrame(protocol.PackSession(protocol.SessionTypeRegular, presentation, hmac))
	require.NoError(t, err)
	_, err = clientConn.Write(frame)
	require.NoError(t, err)

	reply := readSessionReply(t, clientConn)
	require.Equal(t, protocol.SessionTypeRegular, reply.Type)

	pres, err := protocol.UnpackPresentation(reply.Body)
	require.NoError(t, err)
	require.Equal(t, uint16(1), pres.IIN)

	app, err := protocol.UnpackApplication(pres.App)
	require.NoError(t, err)
	require.Equal(t, protocol.ResponseOf(protocol.CmdControlDevice), app.Command)
	require.Empty(t, app.Body)

	expectedHMAC := dcrypto.AuthenticatedHMAC(shared, reply.Body)
	require.Equal(t, expectedHMAC, reply.HMAC)

	state, ok := sink.LastState("mower-1")
	require.True(t, ok)
	require.Equal(t, "Mowing", state)
}

func TestControlCommand_BypassHMACEcho(t *testing.T) {
	sink := telemetry.NewMemorySink()
	clientConn, _, _ := setupAuthenticated(t, sink)
	defer clientConn.Close()

	// FA DE DB ED 00 00 01 00 DE AD BE EF: bypass hmac, REGULAR,
	// presentation IIN=0x0001, app = heartbeat(0x00) body DEADBEEF
	presentation := []byte{0x00, 0x01, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	frame, err := protocol.EncodeFrame(protocol.PackSession(protocol.SessionTypeRegular, presentation, protocol.BypassHMAC))
	require.NoError(t, err)
	_, err = clientConn.Write(frame)
	require.NoError(t, err)

	reply := readSessionReply(t, clientConn)
	require.Equal(t, protocol.BypassHMAC, reply.HMAC)

	pres, err := protocol.UnpackPresentation(reply.Body)
	require.NoError(t, err)
	app, err := protocol.UnpackApplication(pres.App)
	require.NoError(t, err)
	require.Equal(t, protocol.ResponseOf(protocol.CmdHeartbeat), app.Command)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, app.Body)
}

func TestUnauthenticatedRegularMessage_Rejected(t *testing.T) {
	sink := telemetry.NewMemorySink()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverConnCh <- c
	}()
	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()
	serverConn := <-serverConnCh

	conn := NewConnection("mower-2", serverConn, sink, discardLogger(), nil, 0)
	go conn.Serve(context.Background())

	presentation := []byte{0x00, 0x01, 0x00}
	frame, err := protocol.EncodeFrame(protocol.PackSession(protocol.SessionTypeRegular, presentation, 0x12345678))
	require.NoError(t, err)
	_, err = clientConn.Write(frame)
	require.NoError(t, err)

	// no reply is expected; give the server time to process and drop it
	time.Sleep(50 * time.Millisecond)
	_, ok := sink.LastState("mower-2")
	require.False(t, ok)
}

func TestDeviceStatusNotification(t *testing.T) {
	sink := telemetry.NewMemorySink()
	clientConn, _, _ := setupAuthenticated(t, sink)
	defer clientConn.Close()

	// C8 00 00 04 B0 02: DeviceStatus, battery=0xC8(100.0%), blade_seconds=0x000004B0(1200), state=Mowing(0x02)
	body := []byte{protocol.NotifyDeviceStatus, 0xC8, 0x00, 0x00, 0x04, 0xB0, 0x02}
	frame, err := protocol.EncodeFrame(protocol.PackSession(protocol.SessionTypeNotification, body, 0))
	require.NoError(t, err)
	_, err = clientConn.Write(frame)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, ok := sink.LastState("mower-1")
		return ok && state == "Mowing"
	}, time.Second, 10*time.Millisecond)

	require.Len(t, sink.Battery, 1)
	require.Equal(t, 100.0, sink.Battery[0].Percent)
}
