package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{
	Exchange:   "dataprep",
	RoutingKey: "jobs.process",
	QueueName:  "dataprep.jobs",
	Prefetch:   2,
}

// fakeChannel records calls and answers publishes with a scripted confirm.
type fakeChannel struct {
	mu sync.Mutex

	exchangeErr error
	publishErr  error
	confirmAck  bool
	// acks overrides confirmAck per publish, by delivery tag minus one.
	acks []bool
	// withhold delays the confirms of the first n publishes until the
	// next publish.
	withhold int
	held     []amqp.Confirmation

	declaredExchange string
	declaredQueue    string
	boundKey         string
	prefetch         int
	confirmMode      bool
	published        []amqp.Publishing
	confirms         chan amqp.Confirmation
	deliveries       chan amqp.Delivery
	closed           bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if f.exchangeErr != nil {
		return f.exchangeErr
	}
	if kind != "topic" || !durable {
		return errors.New("unexpected exchange settings")
	}
	f.declaredExchange = name
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.declaredQueue = name
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(_, key, _ string, _ bool, _ amqp.Table) error {
	f.boundKey = key
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) Confirm(bool) error {
	f.confirmMode = true
	return nil
}

func (f *fakeChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	f.confirms = c
	return c
}

func (f *fakeChannel) GetNextPublishSeqNo() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.published) + 1)
}

func (f *fakeChannel) PublishWithContext(
	_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)

	tag := uint64(len(f.published))
	ack := f.confirmAck
	if int(tag) <= len(f.acks) {
		ack = f.acks[tag-1]
	}
	confirm := amqp.Confirmation{DeliveryTag: tag, Ack: ack}
	if int(tag) <= f.withhold {
		f.held = append(f.held, confirm)
		return nil
	}

	batch := append(f.held, confirm)
	f.held = nil
	go func(out chan amqp.Confirmation) {
		for _, c := range batch {
			out <- c
		}
	}(f.confirms)
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

// fakeAcknowledger records how a delivery was settled.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) counts() (int, int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acked, a.nacked, a.requeue
}

func TestPublisher_ConfirmedPublish(t *testing.T) {
	ch := &fakeChannel{confirmAck: true}
	p, err := newPublisher(ch, testConfig, nil)
	require.NoError(t, err)

	assert.Equal(t, "dataprep", ch.declaredExchange)
	assert.Equal(t, "dataprep.jobs", ch.declaredQueue)
	assert.Equal(t, "jobs.process", ch.boundKey)
	assert.True(t, ch.confirmMode)

	msg := queue.Message{ProcessingJobID: uuid.New(), DatasetID: uuid.New()}
	require.NoError(t, p.Publish(context.Background(), msg))

	require.Len(t, ch.published, 1)
	pub := ch.published[0]
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "application/json", pub.ContentType)
	decoded, err := queue.Decode(pub.Body)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestPublisher_Failures(t *testing.T) {
	msg := queue.Message{ProcessingJobID: uuid.New(), DatasetID: uuid.New()}

	t.Run("broker nack", func(t *testing.T) {
		p, err := newPublisher(&fakeChannel{confirmAck: false}, testConfig, nil)
		require.NoError(t, err)
		assert.ErrorIs(t, p.Publish(context.Background(), msg), queue.ErrPublishFailed)
	})

	t.Run("stale ack from abandoned publish", func(t *testing.T) {
		ch := &fakeChannel{acks: []bool{true, false}, withhold: 1}
		p, err := newPublisher(ch, testConfig, nil)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err = p.Publish(ctx, msg)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// The first publish's ack arrives ahead of the second's nack.
		err = p.Publish(context.Background(), msg)
		assert.ErrorIs(t, err, queue.ErrPublishFailed)
		assert.Len(t, ch.published, 2)
	})

	t.Run("stale nack does not fail next publish", func(t *testing.T) {
		ch := &fakeChannel{acks: []bool{false, true}, withhold: 1}
		p, err := newPublisher(ch, testConfig, nil)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, p.Publish(ctx, msg), queue.ErrPublishFailed)
		assert.NoError(t, p.Publish(context.Background(), msg))
	})

	t.Run("publish error", func(t *testing.T) {
		brokerDown := errors.New("connection reset")
		p, err := newPublisher(&fakeChannel{publishErr: brokerDown}, testConfig, nil)
		require.NoError(t, err)

		err = p.Publish(context.Background(), msg)
		assert.ErrorIs(t, err, queue.ErrPublishFailed)
		assert.ErrorIs(t, err, brokerDown)
	})

	t.Run("invalid message", func(t *testing.T) {
		p, err := newPublisher(&fakeChannel{confirmAck: true}, testConfig, nil)
		require.NoError(t, err)
		err = p.Publish(context.Background(), queue.Message{})
		assert.ErrorIs(t, err, queue.ErrInvalidMessage)
	})

	t.Run("declare error", func(t *testing.T) {
		_, err := newPublisher(&fakeChannel{exchangeErr: errors.New("access refused")}, testConfig, nil)
		assert.Error(t, err)
	})
}

func TestConsumer_Deliveries(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 2)}
	c, err := newConsumer(ch, testConfig, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ch.prefetch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := c.Consume(ctx)
	require.NoError(t, err)

	badAck := &fakeAcknowledger{}
	ch.deliveries <- amqp.Delivery{Acknowledger: badAck, Body: []byte("garbage")}

	msg := queue.Message{ProcessingJobID: uuid.New(), DatasetID: uuid.New()}
	body, err := queue.Encode(msg)
	require.NoError(t, err)
	goodAck := &fakeAcknowledger{}
	ch.deliveries <- amqp.Delivery{Acknowledger: goodAck, Body: body}

	select {
	case d := <-out:
		assert.Equal(t, msg, d.Message)
		require.NoError(t, d.Reject(false))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	acked, nacked, requeue := badAck.counts()
	assert.Equal(t, 0, acked)
	assert.Equal(t, 1, nacked)
	assert.False(t, requeue)

	acked, nacked, requeue = goodAck.counts()
	assert.Equal(t, 0, acked)
	assert.Equal(t, 1, nacked)
	assert.False(t, requeue)

	close(ch.deliveries)
	_, open := <-out
	assert.False(t, open)
}

func TestConsumer_DefaultPrefetch(t *testing.T) {
	ch := &fakeChannel{}
	cfg := testConfig
	cfg.Prefetch = 0
	_, err := newConsumer(ch, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ch.prefetch)
}
