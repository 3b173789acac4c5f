// Package taskqueue hands work to the external task workers. The core only
// enqueues; consumers live outside this service.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	TaskGenerateDischargeSummary = "generate_discharge_summary"
	TaskEmailDischargeSummary    = "email_discharge_summary"
	TaskSendSMS                  = "send_sms"
)

// Envelope is the wire format shared by every backend.
type Envelope struct {
	Task       string          `json:"task"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type Publisher interface {
	Enqueue(ctx context.Context, task string, payload interface{}) error
}

// NewEnvelope marshals payload and stamps the enqueue time.
func NewEnvelope(task string, payload interface{}, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", task, err)
	}
	return json.Marshal(Envelope{Task: task, Payload: raw, EnqueuedAt: now.UTC()})
}

// MemoryPublisher records envelopes in order. Used in development and tests.
type MemoryPublisher struct {
	mu    sync.Mutex
	tasks []Envelope
	// Err, when set, is returned by every Enqueue.
	Err error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) Enqueue(_ context.Context, task string, payload interface{}) error {
	if m.Err != nil {
		return m.Err
	}
	body, err := NewEnvelope(task, payload, time.Now())
	if err != nil {
		return err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	m.mu.Lock()
	m.tasks = append(m.tasks, env)
	m.mu.Unlock()
	return nil
}

// Tasks returns a copy of the recorded envelopes.
func (m *MemoryPublisher) Tasks() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.tasks))
	copy(out, m.tasks)
	return out
}
