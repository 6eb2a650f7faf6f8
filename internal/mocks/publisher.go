package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/dataprep-api/internal/queue"
)

// MockPublisher implements queue.Publisher and records what it was given.
type MockPublisher struct {
	PublishFn func(ctx context.Context, msg queue.Message) error

	mu       sync.Mutex
	messages []queue.Message
}

var _ queue.Publisher = (*MockPublisher)(nil)

// Publish implements queue.Publisher. Only accepted messages are recorded.
func (m *MockPublisher) Publish(ctx context.Context, msg queue.Message) error {
	if m.PublishFn != nil {
		if err := m.PublishFn(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns the accepted messages in publish order.
func (m *MockPublisher) Messages() []queue.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]queue.Message(nil), m.messages...)
}
