package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vcni/internal/domain"
	"vcni/internal/ports"
)

func TestBridgeFramesInOrder(t *testing.T) {
	t.Parallel()

	stream := newFakeSampleStream([]float32{0.1, 0.2, 0.3}, []float32{0.4, 0.5})
	bridge, err := StartBridge(context.Background(), &fakeSource{stream: stream}, BridgeConfig{FrameSize: 2, Buffer: 4})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer bridge.Stop()

	first := receiveFrame(t, bridge)
	second := receiveFrame(t, bridge)
	if first[0] != Float32ToInt16(0.1) || second[0] != Float32ToInt16(0.3) {
		t.Fatalf("unexpected frame order: %v %v", first, second)
	}
}

func TestBridgeDropsFramesForSlowConsumer(t *testing.T) {
	t.Parallel()

	stream := newFakeSampleStream(make([]float32, 10))
	var drops int
	var mu sync.Mutex
	bridge, err := StartBridge(context.Background(), &fakeSource{stream: stream}, BridgeConfig{
		FrameSize: 2,
		Buffer:    2,
		OnDrop: func() {
			mu.Lock()
			drops++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer bridge.Stop()

	select {
	case <-stream.exhausted:
	case <-time.After(2 * time.Second):
		t.Fatalf("producer did not consume the stream")
	}

	if bridge.Dropped() != 3 {
		t.Fatalf("expected 3 dropped frames, got %d", bridge.Dropped())
	}
	mu.Lock()
	defer mu.Unlock()
	if drops != 3 {
		t.Fatalf("expected drop callback 3 times, got %d", drops)
	}
}

func TestBridgeOpenFailureIsCaptureError(t *testing.T) {
	t.Parallel()

	_, err := StartBridge(context.Background(), &fakeSource{err: errors.New("permission denied")}, BridgeConfig{})
	var captureErr *domain.CaptureError
	if !errors.As(err, &captureErr) {
		t.Fatalf("expected CaptureError, got %v", err)
	}
}

func TestBridgeStreamFailureClosesFrames(t *testing.T) {
	t.Parallel()

	stream := newFakeSampleStream()
	stream.failAfter = errors.New("device unplugged")
	bridge, err := StartBridge(context.Background(), &fakeSource{stream: stream}, BridgeConfig{FrameSize: 2})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case _, ok := <-bridge.Frames():
		if ok {
			t.Fatalf("expected frames channel to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("frames channel did not close")
	}

	var captureErr *domain.CaptureError
	if !errors.As(bridge.Err(), &captureErr) {
		t.Fatalf("expected capture error, got %v", bridge.Err())
	}
}

func TestBridgeStopIsIdempotentAndReleasesStream(t *testing.T) {
	t.Parallel()

	stream := newFakeSampleStream()
	bridge, err := StartBridge(context.Background(), &fakeSource{stream: stream}, BridgeConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := bridge.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := bridge.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if stream.closeCount() != 1 {
		t.Fatalf("expected stream closed once, got %d", stream.closeCount())
	}
	if _, ok := <-bridge.Frames(); ok {
		t.Fatalf("expected closed frames channel")
	}
	if bridge.Err() != nil {
		t.Fatalf("stop should not record an error: %v", bridge.Err())
	}
}

func receiveFrame(t *testing.T, bridge *Bridge) domain.AudioFrame {
	t.Helper()
	select {
	case frame, ok := <-bridge.Frames():
		if !ok {
			t.Fatalf("frames closed early")
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return nil
}

type fakeSource struct {
	stream *fakeSampleStream
	err    error
}

func (s *fakeSource) Open(context.Context, ports.AudioConfig) (ports.SampleStream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

type fakeSampleStream struct {
	mu        sync.Mutex
	blocks    [][]float32
	failAfter error
	closes    int

	exhaustOnce sync.Once
	exhausted   chan struct{}
	closed      chan struct{}
}

func newFakeSampleStream(blocks ...[]float32) *fakeSampleStream {
	return &fakeSampleStream{
		blocks:    blocks,
		exhausted: make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

func (s *fakeSampleStream) Read(buf []float32) (int, error) {
	s.mu.Lock()
	if len(s.blocks) > 0 {
		block := s.blocks[0]
		n := copy(buf, block)
		if n < len(block) {
			s.blocks[0] = block[n:]
		} else {
			s.blocks = s.blocks[1:]
		}
		s.mu.Unlock()
		return n, nil
	}
	failErr := s.failAfter
	s.mu.Unlock()

	s.exhaustOnce.Do(func() { close(s.exhausted) })
	if failErr != nil {
		return 0, failErr
	}
	<-s.closed
	return 0, errors.New("closed")
}

func (s *fakeSampleStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes == 1 {
		close(s.closed)
	}
	return nil
}

func (s *fakeSampleStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
