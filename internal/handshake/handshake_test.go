package handshake

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spken/mower-fleet/internal/protocol"
)

// TestHandshake_RoundTrip runs the client side over one end of a real
// loopback TCP connection against the server-side Machine driven by hand
// over the other end, and asserts both sides agree on the shared secret.
func TestHandshake_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan uint32, 1)
	serverErr := make(chan error, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		defer conn.Close()

		m := NewMachine(context.Background())
		defer m.Close()

		helloMsg, err := readSessionFrame(conn)
		if err != nil {
			serverErr <- err
			return
		}
		challenge, err := m.HandleHello(helloMsg.Body)
		if err != nil {
			serverErr <- err
			return
		}
		wrapped := protocol.PackPresentation(0, challenge)
		if err := writeSessionFrame(conn, protocol.SessionTypeChallenge, wrapped, 0); err != nil {
			serverErr <- err
			return
		}

		authMsg, err := readSessionFrame(conn)
		if err != nil {
			serverErr <- err
			return
		}
		if err := m.HandleClientAuth(authMsg.Body); err != nil {
			serverErr <- err
			return
		}
		serverDone <- m.SharedSecret()
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	clientSecret, err := ClientHandshake(conn, 2*time.Second)
	require.NoError(t, err)

	select {
	case serverSecret := <-serverDone:
		assert.Equal(t, serverSecret, clientSecret)
	case err := <-serverErr:
		t.Fatalf("server side failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server side")
	}
}

// TestClientHandshake_TimesOutOnSilentPeer accepts the connection but
// never replies to HELLO, asserting ClientHandshake fails with
// ErrAuthTimeout within its configured timeout instead of hanging.
func TestClientHandshake_TimesOutOnSilentPeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	peerDone := make(chan struct{})
	defer close(peerDone)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// Accept and read HELLO, then go silent with the socket still open.
		_, _ = readSessionFrame(conn)
		<-peerDone
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	_, err = ClientHandshake(conn, 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrAuthTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMachine_HandleClientAuth_RejectsBadAuthenticator(t *testing.T) {
	m := NewMachine(context.Background())
	defer m.Close()

	clientPub := make([]byte, 4)
	clientPub[0], clientPub[1], clientPub[2], clientPub[3] = 0x00, 0x00, 0x00, 0x07
	_, err := m.HandleHello(clientPub)
	require.NoError(t, err)

	err = m.HandleClientAuth([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	assert.ErrorIs(t, err, ErrHandshakeVerifyFailed)
	assert.Equal(t, PhaseClosed, m.Phase())
}

func TestMachine_RejectsOutOfOrderMessages(t *testing.T) {
	m := NewMachine(context.Background())
	defer m.Close()

	err := m.HandleClientAuth([]byte{0x00, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrUnexpectedPhase)
}
