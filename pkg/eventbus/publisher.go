package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/neuroguard/neuroguard/pkg/logger"
	"github.com/neuroguard/neuroguard/pkg/record"
)

// Transport publishes bytes to a subject.
type Transport interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Telemetry records event publish behavior.
type Telemetry interface {
	RecordPublish(transport, status string)
	RecordRetry(transport string)
	SetDegradedMode(transport string, active bool)
}

type nopTelemetry struct{}

func (nopTelemetry) RecordPublish(transport, status string)        {}
func (nopTelemetry) RecordRetry(transport string)                  {}
func (nopTelemetry) SetDegradedMode(transport string, active bool) {}

// RetryConfig controls retry/backoff behavior for publish attempts.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns default retry policy. Publishing runs inline
// with appends, so it is kept short.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		BackoffFactor:  2,
	}
}

// Publisher publishes record-appended events. It implements
// record.Publisher.
type Publisher struct {
	transport Transport
	name      string
	source    string
	retry     RetryConfig
	telemetry Telemetry
	logger    logger.Logger

	mu       sync.Mutex
	degraded bool
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithRetry overrides the retry policy.
func WithRetry(cfg RetryConfig) PublisherOption {
	return func(p *Publisher) { p.retry = cfg }
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(t Telemetry) PublisherOption {
	return func(p *Publisher) {
		if t != nil {
			p.telemetry = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSource sets the envelope source, usually the app name.
func WithSource(source string) PublisherOption {
	return func(p *Publisher) { p.source = source }
}

// NewPublisher creates a record event publisher. name labels the transport
// in telemetry.
func NewPublisher(name string, transport Transport, opts ...PublisherOption) (*Publisher, error) {
	if transport == nil {
		return nil, fmt.Errorf("eventbus: transport cannot be nil")
	}
	if name == "" {
		name = "unknown"
	}
	p := &Publisher{
		transport: transport,
		name:      name,
		retry:     DefaultRetryConfig(),
		telemetry: nopTelemetry{},
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retry.MaxRetries < 0 {
		return nil, fmt.Errorf("eventbus: max retries cannot be negative")
	}
	if p.retry.InitialBackoff <= 0 || p.retry.MaxBackoff <= 0 || p.retry.BackoffFactor < 1 {
		return nil, fmt.Errorf("eventbus: invalid retry config")
	}
	return p, nil
}

// PublishRecord publishes rec on its kind subject.
func (p *Publisher) PublishRecord(ctx context.Context, rec *record.Record) error {
	_, err := p.Publish(ctx, rec)
	return err
}

// Publish publishes rec with retry/backoff and returns the envelope sent.
func (p *Publisher) Publish(ctx context.Context, rec *record.Record) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	envelope, err := BuildEnvelope(p.source, rec)
	if err != nil {
		return Envelope{}, err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventbus: marshal envelope: %w", err)
	}
	subject := RecordSubject(rec.Kind)

	backoff := p.retry.InitialBackoff
	var publishErr error
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		publishErr = p.transport.Publish(ctx, subject, body)
		if publishErr == nil {
			p.telemetry.RecordPublish(p.name, "success")
			p.setDegraded(false)
			return envelope, nil
		}
		if attempt == p.retry.MaxRetries {
			break
		}
		p.telemetry.RecordRetry(p.name)

		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, p.retry.MaxBackoff, p.retry.BackoffFactor)
	}

	p.telemetry.RecordPublish(p.name, "failed")
	p.setDegraded(true)
	return Envelope{}, fmt.Errorf("eventbus: publish failed: %w", publishErr)
}

// Degraded reports whether the last publish failed.
func (p *Publisher) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

func (p *Publisher) setDegraded(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.degraded == active {
		return
	}
	p.degraded = active
	p.telemetry.SetDegradedMode(p.name, active)
	if active {
		p.logger.Warn("event publishing degraded", "transport", p.name)
	} else {
		p.logger.Info("event publishing recovered", "transport", p.name)
	}
}

func nextBackoff(current, max time.Duration, factor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
