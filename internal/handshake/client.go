package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	dcrypto "github.com/spken/mower-fleet/internal/crypto"
	"github.com/spken/mower-fleet/internal/protocol"
)

// deadliner is satisfied by net.Conn. ClientHandshake uses it to bound
// the entire exchange by a single socket deadline, so a peer that never
// replies to HELLO or CLIENT_AUTH fails with ErrAuthTimeout instead of
// hanging the caller forever.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// ClientHandshake drives the client side of the handshake (HELLO ->
// CHALLENGE -> CLIENT_AUTH) over rw, within the given total timeout. It
// is symmetric with Machine's server side, roles swapped. This is what a
// real device implementation would run against the backend's listener;
// it is used here by internal/dispatch and by tests.
func ClientHandshake(rw io.ReadWriter, timeout time.Duration) (sharedSecret uint32, err error) {
	deadline := time.Now().Add(timeout)
	if d, ok := rw.(deadliner); ok {
		if err := d.SetDeadline(deadline); err != nil {
			return 0, fmt.Errorf("handshake: set deadline: %w", err)
		}
	}

	var secretBuf [2]byte
	if _, err := rand.Read(secretBuf[:]); err != nil {
		return 0, fmt.Errorf("handshake: generate client secret: %w", err)
	}
	clientSecret := binary.BigEndian.Uint16(secretBuf[:])
	if clientSecret == 0 {
		clientSecret = 1
	}
	clientPub := dcrypto.DHPublic(clientSecret)

	helloBody := make([]byte, 4)
	binary.BigEndian.PutUint32(helloBody, clientPub)
	if err := writeSessionFrame(rw, protocol.SessionTypeHello, helloBody, 0); err != nil {
		return 0, wrapTimeout(err, "send HELLO")
	}

	challengeMsg, err := readSessionFrame(rw)
	if err != nil {
		return 0, wrapTimeout(err, "read CHALLENGE")
	}
	if challengeMsg.Type != protocol.SessionTypeChallenge {
		return 0, fmt.Errorf("handshake: expected CHALLENGE, got type 0x%02X", challengeMsg.Type)
	}

	pres, err := protocol.UnpackPresentation(challengeMsg.Body)
	if err != nil {
		return 0, fmt.Errorf("handshake: unpack CHALLENGE: %w", err)
	}
	if len(pres.App) < 16 {
		return 0, fmt.Errorf("handshake: CHALLENGE body too short: %d bytes", len(pres.App))
	}

	serverPub := binary.BigEndian.Uint32(pres.App[0:4])
	nonce := binary.BigEndian.Uint64(pres.App[4:12])
	authS := binary.BigEndian.Uint32(pres.App[12:16])

	// The MAC's first argument is always the sender-of-this-MAC's public
	// key: the server signed (serverPub, clientPub, nonce).
	expectedAuthS := dcrypto.AuthTag(serverPub, clientPub, nonce)
	if authS != expectedAuthS {
		return 0, ErrHandshakeVerifyFailed
	}

	authC := dcrypto.AuthTag(clientPub, serverPub, nonce)
	authCBody := make([]byte, 4)
	binary.BigEndian.PutUint32(authCBody, authC)
	if err := writeSessionFrame(rw, protocol.SessionTypeClientAuth, authCBody, 0); err != nil {
		return 0, wrapTimeout(err, "send CLIENT_AUTH")
	}

	return dcrypto.DHShared(serverPub, clientSecret), nil
}

// wrapTimeout turns a deadline-exceeded I/O error into ErrAuthTimeout;
// any other error is wrapped with the step that failed.
func wrapTimeout(err error, step string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrAuthTimeout
	}
	return fmt.Errorf("handshake: %s: %w", step, err)
}

func writeSessionFrame(w io.Writer, msgType byte, body []byte, hmac uint32) error {
	session := protocol.PackSession(msgType, body, hmac)
	frame, err := protocol.EncodeFrame(session)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// readSessionFrame reads one frame from r and unpacks its session layer,
// accumulating across short reads until a full frame decodes. Bytes read
// past the end of that frame are discarded, which is adequate for the
// synchronous, one-frame-at-a-time handshake exchange.
func readSessionFrame(r io.Reader) (protocol.SessionMessage, error) {
	buf := make([]byte, 0, 64)
	chunk := make([]byte, 64)
	for {
		if payload, _, err := protocol.DecodeFrame(buf); err == nil {
			return protocol.UnpackSession(payload)
		} else if err != protocol.ErrIncomplete {
			return protocol.SessionMessage{}, err
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return protocol.SessionMessage{}, err
		}
	}
}
