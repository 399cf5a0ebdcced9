package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrips(t *testing.T) {
	f := Frame{Kind: KindChunk, Payload: []byte("hello world")}

	encoded := Encode(f)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, f, decoded)
}

func TestDecode_TooShort(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecode_LengthMismatch(t *testing.T) {
	buf := Encode(Frame{Kind: KindAck, Payload: []byte("abc")})
	buf = buf[:len(buf)-1] // truncate payload without fixing length prefix

	_, err := Decode(buf)
	require.Error(t, err)
}

func TestDecode_FrameTooLarge(t *testing.T) {
	buf := make([]byte, 5)
	buf[0] = byte(KindChunk)
	buf[1] = 0xFF
	buf[2] = 0xFF
	buf[3] = 0xFF
	buf[4] = 0xFF

	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeJSON_DecodeJSON_RoundTrips(t *testing.T) {
	meta := MetadataFrame{Path: "skills/foo.md", Size: 42, Sha256Hex: "abc123"}

	f, err := EncodeJSON(KindMetadata, meta)
	require.NoError(t, err)
	assert.Equal(t, KindMetadata, f.Kind)

	var got MetadataFrame
	require.NoError(t, DecodeJSON(f, KindMetadata, &got))
	assert.Equal(t, meta, got)
}

func TestDecodeJSON_WrongKindFails(t *testing.T) {
	f, err := EncodeJSON(KindChange, ChangeFrame{Path: "x"})
	require.NoError(t, err)

	var meta MetadataFrame
	err = DecodeJSON(f, KindMetadata, &meta)
	require.Error(t, err)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "metadata", KindMetadata.String())
	assert.Equal(t, "chunk", KindChunk.String())
	assert.Equal(t, "change", KindChange.String())
	assert.Equal(t, "heartbeat", KindHeartbeat.String())
	assert.Equal(t, "error", KindError.String())
	assert.Equal(t, "ack", KindAck.String())
	assert.Contains(t, Kind(99).String(), "unknown")
}
