package notify

import (
	"context"
	"sync"
)

// Message is one delivery captured by Recorder.
type Message struct {
	Topic   string
	User    string
	Event   string
	Payload any
}

// Recorder is an in-process Publisher that keeps every message. It backs
// local runs without a broker and the module tests.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

func (r *Recorder) PublishTopic(_ context.Context, topic, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{Topic: topic, Event: event, Payload: payload})
	return r.Err
}

func (r *Recorder) PublishUser(_ context.Context, user, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{User: user, Event: event, Payload: payload})
	return r.Err
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// ByEvent returns the recorded messages with the given event name.
func (r *Recorder) ByEvent(event string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}
