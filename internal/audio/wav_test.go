package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	buf, err := DecodePCM16(rampPCM(100, 2), 24000, 2)
	require.NoError(t, err)

	wav := EncodeWAV(buf)
	require.Len(t, wav, WAVHeaderSize+100*2*2)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+400), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, "data", string(wav[36:40]))

	info, err := ParseWAVHeader(wav)
	require.NoError(t, err)
	assert.Equal(t, WAVInfo{Channels: 2, SampleRate: 24000, BitsPerSample: 16, DataLen: 400}, info)
	assert.Equal(t, uint32(24000*2*2), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(wav[32:34]))
}

func TestEncodeWAVEmptyPayloadIsWellFormed(t *testing.T) {
	t.Parallel()

	buf, err := DecodePCM16(nil, 16000, 1)
	require.NoError(t, err)

	wav := EncodeWAV(buf)
	require.Len(t, wav, WAVHeaderSize)
	info, err := ParseWAVHeader(wav)
	require.NoError(t, err)
	assert.Equal(t, 0, info.DataLen)
	assert.Equal(t, 1, info.Channels)
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	t.Parallel()

	buf, err := DecodePCM16(rampPCM(32, 1), 16000, 1)
	require.NoError(t, err)

	decoded, err := DecodeWAV(EncodeWAV(buf))
	require.NoError(t, err)
	assert.Equal(t, buf, decoded)
}

func TestParseWAVHeaderRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseWAVHeader([]byte("RIFF"))
	assert.ErrorIs(t, err, errShortWAV)

	junk := make([]byte, WAVHeaderSize)
	_, err = ParseWAVHeader(junk)
	assert.Error(t, err)
}
