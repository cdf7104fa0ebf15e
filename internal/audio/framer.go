package audio

import "vcni/internal/domain"

// DefaultFrameSize is 300 ms of 16 kHz mono audio.
const DefaultFrameSize = 4800

// Framer accumulates float32 blocks of arbitrary length into fixed-size PCM16
// frames. The write index persists across Write calls.
type Framer struct {
	buf []int16
	idx int
}

// NewFramer returns a framer producing frames of size samples.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = DefaultFrameSize
	}
	return &Framer{buf: make([]int16, size)}
}

// FrameSize returns the configured frame length in samples.
func (f *Framer) FrameSize() int {
	return len(f.buf)
}

// Buffered returns the number of samples waiting for a full frame.
func (f *Framer) Buffered() int {
	return f.idx
}

// Write converts block and calls emit with each completed frame. Emitted
// frames are copies; the caller may retain them.
func (f *Framer) Write(block []float32, emit func(domain.AudioFrame)) {
	for _, s := range block {
		f.buf[f.idx] = Float32ToInt16(s)
		f.idx++
		if f.idx == len(f.buf) {
			frame := make(domain.AudioFrame, len(f.buf))
			copy(frame, f.buf)
			f.idx = 0
			emit(frame)
		}
	}
}

// Reset discards any partial frame.
func (f *Framer) Reset() {
	f.idx = 0
}
