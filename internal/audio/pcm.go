package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Float32ToInt16 clamps s to [-1, 1] and scales it to signed 16-bit.
func Float32ToInt16(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// Int16ToFloat32 normalizes a PCM16 sample to [-1, 1).
func Int16ToFloat32(s int16) float32 {
	return float32(s) / 0x8000
}

// PCM16Decoder converts a little-endian PCM16 byte stream into float32
// samples. A trailing odd byte is carried into the next Write.
type PCM16Decoder struct {
	carry    byte
	hasCarry bool
}

// Write decodes chunk and appends the samples to dst.
func (d *PCM16Decoder) Write(dst []float32, chunk []byte) []float32 {
	if len(chunk) == 0 {
		return dst
	}
	if d.hasCarry {
		sample := int16(binary.LittleEndian.Uint16([]byte{d.carry, chunk[0]}))
		dst = append(dst, Int16ToFloat32(sample))
		chunk = chunk[1:]
		d.hasCarry = false
	}
	n := len(chunk) / 2
	for i := 0; i < n; i++ {
		dst = append(dst, Int16ToFloat32(int16(binary.LittleEndian.Uint16(chunk[i*2:]))))
	}
	if len(chunk)%2 == 1 {
		d.carry = chunk[len(chunk)-1]
		d.hasCarry = true
	}
	return dst
}

// Pending reports whether a half sample is buffered.
func (d *PCM16Decoder) Pending() bool {
	return d.hasCarry
}

// DecodePCM16LE converts a complete PCM16 buffer, ignoring a trailing odd byte.
func DecodePCM16LE(data []byte) []float32 {
	var d PCM16Decoder
	return d.Write(make([]float32, 0, len(data)/2), data)
}

// EncodeFloat32LE encodes samples as little-endian IEEE float32.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// DecodeFloat32LE decodes whole float32 samples from data into dst and
// returns the count written.
func DecodeFloat32LE(dst []float32, data []byte) int {
	n := len(data) / 4
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return n
}

var errNotWAV = errors.New("payload is not a RIFF/WAVE file")

// WAVData holds the PCM payload of a WAV file.
type WAVData struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	PCM           []byte
}

// ParseWAV extracts the data chunk from a PCM WAV payload.
func ParseWAV(payload []byte) (WAVData, error) {
	if len(payload) < 12 || string(payload[0:4]) != "RIFF" || string(payload[8:12]) != "WAVE" {
		return WAVData{}, errNotWAV
	}

	var out WAVData
	offset := 12
	for offset+8 <= len(payload) {
		id := string(payload[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(payload[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if end > len(payload) {
			end = len(payload)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return WAVData{}, fmt.Errorf("wav fmt chunk too short: %d bytes", end-body)
			}
			format := binary.LittleEndian.Uint16(payload[body:])
			if format != 1 {
				return WAVData{}, fmt.Errorf("unsupported wav format %d", format)
			}
			out.Channels = int(binary.LittleEndian.Uint16(payload[body+2:]))
			out.SampleRate = int(binary.LittleEndian.Uint32(payload[body+4:]))
			out.BitsPerSample = int(binary.LittleEndian.Uint16(payload[body+14:]))
		case "data":
			if out.SampleRate == 0 {
				return WAVData{}, errors.New("wav data chunk before fmt chunk")
			}
			if out.BitsPerSample != 16 {
				return WAVData{}, fmt.Errorf("unsupported wav bit depth %d", out.BitsPerSample)
			}
			out.PCM = payload[body:end]
			return out, nil
		}

		offset = body + size
		if size%2 == 1 {
			offset++
		}
	}
	return WAVData{}, errors.New("wav payload has no data chunk")
}

// DownmixInterleaved averages interleaved channels into mono.
func DownmixInterleaved(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
