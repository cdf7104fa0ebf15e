// Package events publishes session events to Kafka and fans them out to
// other sinks.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"vcni/internal/domain"
	"vcni/internal/metrics"
)

// Event types carried in the "eventType" header.
const (
	TypeState    = "session_state"
	TypePartial  = "partial_transcript"
	TypeFinal    = "final_transcript"
	TypeCommand  = "command_result"
	TypeSpeaking = "speaking"
	TypeError    = "session_error"
)

var errQueueFull = errors.New("event queue full")

// Event is the JSON payload written for every sink callback.
type Event struct {
	ID        string                `json:"id"`
	Type      string                `json:"type"`
	Principal string                `json:"principal,omitempty"`
	Time      time.Time             `json:"time"`
	State     domain.SessionState   `json:"state,omitempty"`
	Reason    string                `json:"reason,omitempty"`
	Text      string                `json:"text,omitempty"`
	Result    *domain.CommandResult `json:"result,omitempty"`
	Speaking  *bool                 `json:"speaking,omitempty"`
	Code      domain.ErrorCode      `json:"code,omitempty"`
	Detail    string                `json:"detail,omitempty"`
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers   []string
	Topic     string
	Principal string
	// Buffer bounds the events queued for the writer. Overflow is dropped.
	Buffer int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is an EventSink that writes events to Kafka. Without brokers it
// only logs them.
type Publisher struct {
	writer    messageWriter
	topic     string
	principal string
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewPublisher creates a publisher. The writer goroutine runs until Close.
func NewPublisher(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Publisher {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		logger.Info().Msg("kafka disabled, using log-only mode")
		return newPublisher(nil, cfg, logger, m)
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("principal", cfg.Principal).
		Msg("kafka publisher initialized")

	return newPublisher(writer, cfg, logger, m)
}

func newPublisher(writer messageWriter, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.Nop()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	p := &Publisher{
		writer:    writer,
		topic:     cfg.Topic,
		principal: cfg.Principal,
		log:       logger,
		metrics:   m,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	if writer == nil {
		close(p.done)
		return p
	}
	p.queue = make(chan Event, cfg.Buffer)
	go p.run()
	return p
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.writer != nil
}

func (p *Publisher) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	p.publish(Event{Type: TypeState, State: state, Reason: string(reason)})
}

func (p *Publisher) PartialTranscript(text string) {
	p.publish(Event{Type: TypePartial, Text: text})
}

func (p *Publisher) FinalTranscript(text string) {
	p.publish(Event{Type: TypeFinal, Text: text})
}

func (p *Publisher) CommandResult(command string, result domain.CommandResult) {
	p.publish(Event{Type: TypeCommand, Text: command, Result: &result})
}

func (p *Publisher) SpeakingChanged(speaking bool) {
	p.publish(Event{Type: TypeSpeaking, Speaking: &speaking})
}

func (p *Publisher) SessionError(code domain.ErrorCode, detail string) {
	p.publish(Event{Type: TypeError, Code: code, Detail: detail})
}

func (p *Publisher) publish(event Event) {
	event.ID = uuid.NewString()
	event.Principal = p.principal
	event.Time = p.now().UTC()

	if p.writer == nil {
		p.log.Debug().
			Str("type", event.Type).
			Str("id", event.ID).
			Msg("session event")
		p.metrics.RecordPublish(p.topicLabel(), nil)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- event:
	default:
		p.log.Warn().Str("type", event.Type).Msg("event queue full, dropping event")
		p.metrics.RecordPublish(p.topic, errQueueFull)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for event := range p.queue {
		p.write(event)
	}
}

func (p *Publisher) write(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Str("type", event.Type).Msg("failed to marshal event")
		p.metrics.RecordPublish(p.topic, err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(p.principal),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(event.Type)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error().
			Err(err).
			Str("topic", p.topic).
			Str("type", event.Type).
			Msg("failed to write to kafka")
		p.metrics.RecordPublish(p.topic, err)
		return
	}
	p.metrics.RecordPublish(p.topic, nil)
}

func (p *Publisher) topicLabel() string {
	if p.topic == "" {
		return "log"
	}
	return p.topic
}

// Close flushes queued events and closes the writer.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.writer == nil {
			return
		}
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		<-p.done
		if e := p.writer.Close(); e != nil {
			p.log.Error().Err(e).Msg("error closing kafka writer")
			err = e
		}
	})
	return err
}
