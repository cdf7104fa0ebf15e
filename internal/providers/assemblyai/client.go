// Package assemblyai implements streaming speech recognition over the
// AssemblyAI realtime websocket.
package assemblyai

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vcni/internal/audio"
	"vcni/internal/domain"
	"vcni/internal/metrics"
	"vcni/internal/ports"
)

// Protocol selects the websocket API generation.
type Protocol string

const (
	ProtocolV3 Protocol = "v3"
	ProtocolV2 Protocol = "v2"
)

const (
	defaultV3URL = "wss://streaming.assemblyai.com/v3/ws"
	defaultV2URL = "wss://api.assemblyai.com/v2/realtime/ws"
)

// ErrClientClosed is returned by Connect when the client was disconnected
// before the connection completed.
var ErrClientClosed = errors.New("transcription client closed")

var errClientUsed = errors.New("transcription client already used")

// Config controls the websocket session.
type Config struct {
	URL              string
	Protocol         Protocol
	SampleRate       int
	FormatTurns      bool
	Audio            ports.AudioConfig
	FrameSize        int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Factory implements ports.TranscriberFactory.
type Factory struct {
	cfg     Config
	source  ports.AudioSource
	dialer  *websocket.Dialer
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewFactory(cfg Config, source ports.AudioSource, logger zerolog.Logger, m *metrics.Metrics) *Factory {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolV3
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = cfg.SampleRate
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Factory{
		cfg:    cfg,
		source: source,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log:     logger,
		metrics: m,
	}
}

func (f *Factory) NewClient() ports.TranscriptionClient {
	return &Client{
		cfg:       f.cfg,
		source:    f.source,
		dialer:    f.dialer,
		log:       f.log,
		metrics:   f.metrics,
		state:     ports.ClientIdle,
		events:    make(chan domain.StreamEvent, 64),
		readDone:  make(chan struct{}),
		writeDone: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Client is a single-use streaming session: idle, connecting, connected,
// closed. Exactly one disconnected event is emitted, after which Events is
// closed.
type Client struct {
	cfg     Config
	source  ports.AudioSource
	dialer  *websocket.Dialer
	log     zerolog.Logger
	metrics *metrics.Metrics

	events chan domain.StreamEvent

	mu     sync.Mutex
	state  ports.ClientState
	conn   *websocket.Conn
	bridge *audio.Bridge
	cancel context.CancelFunc

	closing   atomic.Bool
	readDone  chan struct{}
	writeDone chan struct{}
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

func (c *Client) Events() <-chan domain.StreamEvent {
	return c.events
}

func (c *Client) State() ports.ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect acquires the microphone, then opens the socket. ctx bounds the
// whole session: cancelling it disconnects.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state != ports.ClientIdle {
		c.mu.Unlock()
		return errClientUsed
	}
	c.state = ports.ClientConnecting
	sessionCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	wsURL, err := buildStreamURL(c.cfg, token)
	if err != nil {
		err = &domain.ConnectionError{Err: err}
		c.shutdown(err, false)
		return err
	}

	bridge, err := audio.StartBridge(sessionCtx, c.source, audio.BridgeConfig{
		Audio:     c.cfg.Audio,
		FrameSize: c.cfg.FrameSize,
		OnDrop:    c.metrics.FramesDropped.Inc,
		Logger:    c.log,
	})
	if err != nil {
		if c.closing.Load() {
			return ErrClientClosed
		}
		c.shutdown(err, false)
		return err
	}

	c.mu.Lock()
	if c.state == ports.ClientClosed {
		c.mu.Unlock()
		_ = bridge.Stop()
		return ErrClientClosed
	}
	c.bridge = bridge
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(sessionCtx, wsURL, nil)
	if err != nil {
		if c.closing.Load() {
			return ErrClientClosed
		}
		err = &domain.ConnectionError{Err: fmt.Errorf("failed to open transcription socket: %w", err)}
		c.shutdown(err, false)
		return err
	}

	c.mu.Lock()
	if c.state == ports.ClientClosed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.state = ports.ClientConnected
	c.mu.Unlock()

	c.emit(domain.StreamEvent{Kind: domain.StreamEventConnected})
	go c.readLoop(conn)
	go c.writeLoop(sessionCtx, conn, bridge)
	go func() {
		select {
		case <-sessionCtx.Done():
			_ = c.Disconnect()
		case <-c.done:
		}
	}()
	return nil
}

// Disconnect stops the microphone, sends the terminate message and closes
// the socket. It blocks until the read loop has exited.
func (c *Client) Disconnect() error {
	c.shutdown(nil, false)
	return nil
}

// Done is closed once the client has fully shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// shutdown runs once, on whichever goroutine first observes the end of the
// session. Later callers wait for it unless they are the read loop, which
// the initiator itself waits on.
func (c *Client) shutdown(cause error, fromReader bool) {
	if !c.closing.CompareAndSwap(false, true) {
		if !fromReader {
			<-c.done
		}
		return
	}

	c.mu.Lock()
	prev := c.state
	c.state = ports.ClientClosed
	conn := c.conn
	bridge := c.bridge
	cancel := c.cancel
	c.mu.Unlock()

	if bridge != nil {
		_ = bridge.Stop()
	}
	if conn != nil {
		<-c.writeDone
		if cause == nil {
			c.sendTerminate(conn)
		}
		_ = conn.Close()
		if !fromReader {
			<-c.readDone
		}
	}
	if cancel != nil {
		cancel()
	}

	if cause != nil {
		c.log.Warn().Err(cause).Str("state", string(prev)).Msg("transcription session failed")
		c.emit(domain.StreamEvent{Kind: domain.StreamEventError, Err: cause})
	}
	c.emit(domain.StreamEvent{Kind: domain.StreamEventDisconnected})
	close(c.events)
	close(c.done)
}

func (c *Client) sendTerminate(conn *websocket.Conn) {
	message := []byte(`{"type":"Terminate"}`)
	if c.cfg.Protocol == ProtocolV2 {
		message = []byte(`{"terminate_session":true}`)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.log.Debug().Err(err).Msg("failed to send terminate message")
		return
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, bridge *audio.Bridge) {
	defer close(c.writeDone)

	for frame := range bridge.Frames() {
		if c.closing.Load() {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame.Bytes()); err != nil {
			if !c.closing.Load() {
				c.setErr(&domain.ConnectionError{Err: fmt.Errorf("failed to send audio: %w", err)})
				_ = conn.Close()
			}
			return
		}
		c.metrics.FramesSent.Inc()
	}

	// A cancelled session context is a disconnect, handled by the watcher.
	if !c.closing.Load() && ctx.Err() == nil {
		captureErr := bridge.Err()
		if captureErr == nil {
			captureErr = &domain.CaptureError{Err: errors.New("microphone stream ended")}
		}
		c.setErr(captureErr)
		_ = conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.readDone)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				return
			}
			c.shutdown(c.readFailure(err), true)
			return
		}

		msg, err := parseMessage(payload, c.cfg.FormatTurns)
		if err != nil {
			c.log.Warn().Err(err).Msg("ignoring malformed transcription message")
			continue
		}

		switch msg.kind {
		case messageBegin:
			c.log.Debug().Str("providerSession", msg.sessionID).Msg("transcription session began")
		case messageTranscript:
			if msg.transcript.Text == "" {
				continue
			}
			c.emit(domain.StreamEvent{Kind: domain.StreamEventTranscript, Transcript: msg.transcript})
		case messageTerminated:
			c.shutdown(c.writeErr(), true)
			return
		case messageError:
			c.shutdown(&domain.ProtocolError{Message: msg.errText}, true)
			return
		}
	}
}

func (c *Client) readFailure(err error) error {
	if writeErr := c.writeErr(); writeErr != nil {
		return writeErr
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Text != "" {
		return &domain.ConnectionError{Err: fmt.Errorf("server closed connection (%d): %s", closeErr.Code, closeErr.Text)}
	}
	return &domain.ConnectionError{Err: fmt.Errorf("failed to read transcription event: %w", err)}
}

func (c *Client) emit(event domain.StreamEvent) {
	if event.Kind == domain.StreamEventTranscript {
		c.metrics.RecordTranscript(event.Transcript.IsFinal)
	}
	c.events <- event
}

func (c *Client) writeErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func buildStreamURL(cfg Config, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("transcription token is empty")
	}

	base := strings.TrimSpace(cfg.URL)
	if base == "" {
		base = defaultV3URL
		if cfg.Protocol == ProtocolV2 {
			base = defaultV2URL
		}
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	streamURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid transcription URL: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	query := streamURL.Query()
	query.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	query.Set("encoding", "pcm_s16le")
	if cfg.Protocol != ProtocolV2 {
		query.Set("format_turns", fmt.Sprintf("%t", cfg.FormatTurns))
	}
	query.Set("token", token)
	streamURL.RawQuery = query.Encode()
	return streamURL.String(), nil
}
