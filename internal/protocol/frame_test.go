package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame_EmptyPayload(t *testing.T) {
	frame, err := EncodeFrame(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x00, 0xFF, 0x56}, frame)
}

func TestEncodeDecodeFrame_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0x01},
		{0x01, 0x02, 0x03},
		make([]byte, 200),
	}
	for _, p := range payloads {
		frame, err := EncodeFrame(p)
		require.NoError(t, err)

		got, consumed, err := DecodeFrame(frame)
		require.NoError(t, err)
		assert.Equal(t, len(frame), consumed)
		assert.Equal(t, p, got)
	}
}

func TestDecodeFrame_IncompleteAwaitsMoreBytes(t *testing.T) {
	frame, err := EncodeFrame([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	for i := 0; i < len(frame); i++ {
		_, _, err := DecodeFrame(frame[:i])
		assert.ErrorIs(t, err, ErrIncomplete, "prefix length %d", i)
	}
}

func TestDecodeFrame_InvalidSOF(t *testing.T) {
	_, _, err := DecodeFrame([]byte{0x00, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrInvalidSOF)
}

func TestDecodeFrame_ChecksumMismatch(t *testing.T) {
	frame, err := EncodeFrame([]byte{0x01, 0x02})
	require.NoError(t, err)

	frame[2] ^= 0xFF // flip a payload byte, not the checksum itself
	_, _, err = DecodeFrame(frame)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeFrame_TrailingBytesNotConsumed(t *testing.T) {
	frame, err := EncodeFrame([]byte{0x01})
	require.NoError(t, err)
	buf := append(frame, 0xAA, 0x00, 0xFF, 0x56) // a second frame follows

	payload, consumed, err := DecodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, payload)
	assert.Equal(t, len(frame), consumed)
}

func TestVarintEncoding(t *testing.T) {
	cases := map[uint32][]byte{
		0:     {0x00},
		127:   {0x7F},
		128:   {0x80, 0x01},
		16383: {0xFF, 0x7F},
		16384: {0x80, 0x80, 0x01},
	}
	for n, want := range cases {
		assert.Equal(t, want, encodeVarint(n), "encode(%d)", n)

		value, length, err := decodeVarint(want)
		require.NoError(t, err)
		assert.Equal(t, n, value, "decode(%x)", want)
		assert.Equal(t, len(want), length)
	}
}

func TestDecodeVarint_LengthTooLong(t *testing.T) {
	_, _, err := decodeVarint([]byte{0x80, 0x80, 0x80, 0x01})
	assert.ErrorIs(t, err, ErrLengthTooLong)
}

func TestEncodeFrame_RejectsOversizedPayload(t *testing.T) {
	_, err := EncodeFrame(make([]byte, MaxPayloadLen+1))
	assert.ErrorIs(t, err, ErrPayloadTooLong)
}
