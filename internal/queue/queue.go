// Package queue defines the job queue contract between the upload flow and
// the workers, together with an in-memory implementation.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common queue errors
var (
	// ErrPublishFailed wraps every failure to hand a message to the broker.
	ErrPublishFailed = errors.New("failed to publish job message")

	// ErrQueueClosed is returned when publishing to or consuming from a closed queue.
	ErrQueueClosed = errors.New("job queue is closed")

	// ErrQueueFull is returned when the in-memory buffer has no room.
	ErrQueueFull = errors.New("job queue is full")

	// ErrInvalidMessage is returned for a message body that cannot be decoded
	// or names no job.
	ErrInvalidMessage = errors.New("invalid job message")
)

// Message asks a worker to process one job. It carries identifiers only,
// so processing the same message twice is safe.
type Message struct {
	ProcessingJobID uuid.UUID `json:"processingJobId"`
	DatasetID       uuid.UUID `json:"datasetId"`
}

// Validate checks that the message names a job and a dataset.
func (m Message) Validate() error {
	if m.ProcessingJobID == uuid.Nil {
		return fmt.Errorf("%w: missing processingJobId", ErrInvalidMessage)
	}
	if m.DatasetID == uuid.Nil {
		return fmt.Errorf("%w: missing datasetId", ErrInvalidMessage)
	}
	return nil
}

// Encode serializes a message to its JSON wire form.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses and validates a JSON message body.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Publisher hands job messages to the queue.
// Publish returns an error wrapping ErrPublishFailed when the message was not accepted.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Consumer streams deliveries until ctx is cancelled or the queue closes,
// at which point the channel is closed.
type Consumer interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
}

// Delivery is one received message. Exactly one of Ack or Reject must be called.
type Delivery struct {
	Message Message

	ack    func() error
	reject func(requeue bool) error
}

// NewDelivery builds a Delivery from backend acknowledgement callbacks.
func NewDelivery(msg Message, ack func() error, reject func(requeue bool) error) Delivery {
	return Delivery{Message: msg, ack: ack, reject: reject}
}

// Ack confirms the message was handled.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Reject gives the message back to the broker, dropping it unless requeue is true.
func (d Delivery) Reject(requeue bool) error {
	if d.reject == nil {
		return nil
	}
	return d.reject(requeue)
}
