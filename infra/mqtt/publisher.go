package mqtt

import (
	"fmt"
	"sync"
)

// Publisher is the publish side of the MQTT client used by notifiers and
// the simulator.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

var _ Publisher = (*PahoClient)(nil)

// Message is a payload captured by MockPublisher.
type Message struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// MockPublisher is a simple publisher used in tests.
type MockPublisher struct {
	mu       sync.Mutex
	Messages []Message
	// FailTopics makes Publish fail for the listed topics.
	FailTopics map[string]bool
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{FailTopics: make(map[string]bool)}
}

// Publish records the message or returns an error if configured to fail.
func (m *MockPublisher) Publish(topic string, qos byte, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTopics[topic] {
		return fmt.Errorf("publish failed")
	}
	m.Messages = append(m.Messages, Message{Topic: topic, QoS: qos, Payload: append([]byte(nil), payload...)})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockPublisher) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Messages...)
}
