package eventbus

import (
	"sync"
)

// EnvelopeConsumer decodes envelopes and suppresses duplicate deliveries.
type EnvelopeConsumer struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
}

// NewEnvelopeConsumer creates a consumer that remembers up to capacity
// event ids.
func NewEnvelopeConsumer(capacity int) *EnvelopeConsumer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &EnvelopeConsumer{
		seen:     make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

// Decode parses raw and reports whether the event was already delivered.
func (c *EnvelopeConsumer) Decode(raw []byte) (Envelope, bool, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return Envelope{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[env.EventID]; ok {
		return env, true, nil
	}
	c.seen[env.EventID] = struct{}{}
	c.order = append(c.order, env.EventID)
	if len(c.order) > c.capacity {
		delete(c.seen, c.order[0])
		c.order = c.order[1:]
	}
	return env, false, nil
}
