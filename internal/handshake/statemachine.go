// Package handshake drives the per-connection authentication state
// machine: Hello -> Challenge -> ClientAuth -> Authenticated. The device
// is always the client; the backend is always the server. See client.go
// for the symmetric client-side exchange used by the outbound dispatcher.
package handshake

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	dcrypto "github.com/spken/mower-fleet/internal/crypto"
)

// Phase is one state in the per-connection handshake state machine.
type Phase int

const (
	PhaseAwaitingHello Phase = iota
	PhaseAwaitingClientAuth
	PhaseAuthenticated
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingHello:
		return "AwaitingHello"
	case PhaseAwaitingClientAuth:
		return "AwaitingClientAuth"
	case PhaseAuthenticated:
		return "Authenticated"
	case PhaseClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseClosed
}

var validTransitions = map[Phase][]Phase{
	PhaseAwaitingHello:      {PhaseAwaitingClientAuth, PhaseClosed},
	PhaseAwaitingClientAuth: {PhaseAuthenticated, PhaseClosed},
	PhaseAuthenticated:      {PhaseClosed},
}

// ErrHandshakeVerifyFailed is returned when the peer's authenticator does
// not match what we computed.
var ErrHandshakeVerifyFailed = errors.New("handshake: authenticator verification failed")

// ErrUnexpectedPhase is returned when a handshake message arrives out of
// order for the connection's current phase.
var ErrUnexpectedPhase = errors.New("handshake: message received in unexpected phase")

// ErrAuthTimeout is returned by the client-side exchange when the peer
// fails to respond within the handshake deadline.
var ErrAuthTimeout = errors.New("handshake: timed out waiting for peer")

// Machine is the server-side handshake state machine for one connection.
// It holds no socket and performs no I/O; the connection session drives
// it by feeding decoded HELLO/CLIENT_AUTH bodies and sending back the
// bytes it is told to send.
type Machine struct {
	mu sync.RWMutex

	phase Phase

	clientPub    uint32
	serverSecret uint16
	serverPub    uint32
	nonce        uint64
	sharedSecret uint32

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewMachine creates a server-side handshake state machine in
// AwaitingHello.
func NewMachine(ctx context.Context) *Machine {
	ctx, cancel := context.WithCancel(ctx)
	return &Machine{
		phase:     PhaseAwaitingHello,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (m *Machine) transition(to Phase) error {
	allowed := validTransitions[m.phase]
	for _, p := range allowed {
		if p == to {
			m.phase = to
			return nil
		}
	}
	return fmt.Errorf("handshake: invalid transition %s -> %s", m.phase, to)
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// IsAuthenticated reports whether the handshake completed successfully.
func (m *Machine) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase == PhaseAuthenticated
}

// SharedSecret returns the derived shared secret. Only valid once
// IsAuthenticated() is true.
func (m *Machine) SharedSecret() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sharedSecret
}

// HandleHello processes a HELLO body (clientPub[4] BE). It returns the
// CHALLENGE body to send back: serverPub[4] ++ nonce[8] ++ authS[4], all
// big-endian.
func (m *Machine) HandleHello(body []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseAwaitingHello {
		return nil, ErrUnexpectedPhase
	}
	if len(body) < 4 {
		return nil, fmt.Errorf("handshake: HELLO body too short: %d bytes", len(body))
	}

	m.clientPub = binary.BigEndian.Uint32(body[:4])

	var secretBuf [2]byte
	if _, err := rand.Read(secretBuf[:]); err != nil {
		return nil, fmt.Errorf("handshake: generate server secret: %w", err)
	}
	m.serverSecret = binary.BigEndian.Uint16(secretBuf[:])
	if m.serverSecret == 0 {
		m.serverSecret = 1
	}

	var nonceBuf [8]byte
	if _, err := rand.Read(nonceBuf[:]); err != nil {
		return nil, fmt.Errorf("handshake: generate nonce: %w", err)
	}
	m.nonce = binary.BigEndian.Uint64(nonceBuf[:])

	m.serverPub = dcrypto.DHPublic(m.serverSecret)
	authS := dcrypto.AuthTag(m.serverPub, m.clientPub, m.nonce)

	challenge := make([]byte, 16)
	binary.BigEndian.PutUint32(challenge[0:4], m.serverPub)
	binary.BigEndian.PutUint64(challenge[4:12], m.nonce)
	binary.BigEndian.PutUint32(challenge[12:16], authS)

	if err := m.transition(PhaseAwaitingClientAuth); err != nil {
		return nil, err
	}
	return challenge, nil
}

// HandleClientAuth processes a CLIENT_AUTH body (authC[4] BE). On success
// the machine moves to Authenticated and the shared secret becomes
// available via SharedSecret().
func (m *Machine) HandleClientAuth(body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseAwaitingClientAuth {
		return ErrUnexpectedPhase
	}
	if len(body) < 4 {
		return fmt.Errorf("handshake: CLIENT_AUTH body too short: %d bytes", len(body))
	}

	authC := binary.BigEndian.Uint32(body[:4])
	expected := dcrypto.AuthTag(m.clientPub, m.serverPub, m.nonce)
	if authC != expected {
		_ = m.transition(PhaseClosed)
		return ErrHandshakeVerifyFailed
	}

	m.sharedSecret = dcrypto.DHShared(m.clientPub, m.serverSecret)
	return m.transition(PhaseAuthenticated)
}

// Close moves the machine to its terminal state and cancels its context.
func (m *Machine) Close() {
	m.mu.Lock()
	_ = m.transition(PhaseClosed)
	m.mu.Unlock()
	m.cancel()
}

// Context is cancelled when the handshake (and its owning connection) closes.
func (m *Machine) Context() context.Context {
	return m.ctx
}

// Elapsed returns the time since the handshake began.
func (m *Machine) Elapsed() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startedAt)
}
