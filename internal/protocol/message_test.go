package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackSession_RoundTrip(t *testing.T) {
	packed := PackSession(SessionTypeRegular, []byte{0xDE, 0xAD}, 0xFEED5EED)

	msg, err := UnpackSession(packed)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFEED5EED), msg.HMAC)
	assert.Equal(t, SessionTypeRegular, msg.Type)
	assert.Equal(t, []byte{0xDE, 0xAD}, msg.Body)
}

func TestUnpackSession_TooShort(t *testing.T) {
	_, err := UnpackSession([]byte{0x00, 0x00, 0x00, 0x00})
	assert.Error(t, err)
}

func TestPackUnpackPresentation_RoundTrip(t *testing.T) {
	packed := PackPresentation(0x0102, []byte{0x01, 0x02, 0x03})

	msg, err := UnpackPresentation(packed)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), msg.IIN)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, msg.App)
}

func TestPackUnpackApplication_RoundTrip(t *testing.T) {
	packed := PackApplication(CmdControlDevice, []byte{ActionStart})

	msg, err := UnpackApplication(packed)
	require.NoError(t, err)
	assert.Equal(t, CmdControlDevice, msg.Command)
	assert.Equal(t, []byte{ActionStart}, msg.Body)
}

func TestBypassEcho_WireShape(t *testing.T) {
	// "Bypass echo" vector from the wire-protocol concrete test vectors:
	// FA DE DB ED 00 00 01 00 DE AD BE EF -> heartbeat echo under bypass HMAC.
	body := PackApplication(CmdHeartbeat, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	pres := PackPresentation(0x0001, body)
	session := PackSession(SessionTypeRegular, pres, BypassHMAC)

	assert.Equal(t,
		[]byte{0xFA, 0xDE, 0xDB, 0xED, 0x00, 0x00, 0x01, 0x00, 0xDE, 0xAD, 0xBE, 0xEF},
		session,
	)
}

func TestResponseOf(t *testing.T) {
	assert.Equal(t, byte(0x80), ResponseOf(CmdHeartbeat))
	assert.Equal(t, byte(0x81), ResponseOf(CmdControlDevice))
}

func TestDeviceStateRoundTrip(t *testing.T) {
	for _, s := range []DeviceState{
		StateStationCharging, StateStationChargingCompleted,
		StateMowing, StateReturningToStation, StatePaused, StateError,
	} {
		parsed, ok := ParseDeviceState(s.String())
		require.True(t, ok)
		assert.Equal(t, s, parsed)
	}
}
