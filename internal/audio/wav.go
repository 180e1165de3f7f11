package audio

import (
	"encoding/binary"
	"fmt"
)

// WAVHeaderSize is the canonical RIFF/WAVE header length for PCM.
const WAVHeaderSize = 44

const bitsPerSample = 16

// EncodeWAV writes b as a 16-bit PCM WAV file with a 44-byte header.
func EncodeWAV(b *Buffer) []byte {
	channels := b.NumChannels()
	pcm := b.Interleaved()
	dataLen := len(pcm)
	byteRate := b.SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, WAVHeaderSize, WAVHeaderSize+dataLen)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(b.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))

	return append(out, pcm...)
}

// WAVInfo is the format block of a PCM WAV file.
type WAVInfo struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataLen       int
}

// ParseWAVHeader validates a canonical 44-byte PCM header.
func ParseWAVHeader(data []byte) (WAVInfo, error) {
	if len(data) < WAVHeaderSize {
		return WAVInfo{}, errShortWAV
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("missing RIFF/WAVE signature")
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return WAVInfo{}, fmt.Errorf("non-canonical chunk layout")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return WAVInfo{}, fmt.Errorf("unsupported audio format %d", format)
	}
	return WAVInfo{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
		DataLen:       int(binary.LittleEndian.Uint32(data[40:44])),
	}, nil
}

// DecodeWAV reads a WAV produced by EncodeWAV.
func DecodeWAV(data []byte) (*Buffer, error) {
	info, err := ParseWAVHeader(data)
	if err != nil {
		return nil, err
	}
	if info.BitsPerSample != bitsPerSample {
		return nil, fmt.Errorf("unsupported bits per sample %d", info.BitsPerSample)
	}
	end := WAVHeaderSize + info.DataLen
	if end > len(data) {
		end = len(data)
	}
	return DecodePCM16(data[WAVHeaderSize:end], info.SampleRate, info.Channels)
}
