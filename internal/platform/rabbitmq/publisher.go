package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/dataprep-api/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes job messages and waits for the broker's confirm
// before reporting success. Publishes are serialized on one channel.
type Publisher struct {
	ch       amqpChannel
	confirms chan amqp.Confirmation
	cfg      Config
	logger   *slog.Logger

	mu sync.Mutex
}

// Ensure Publisher implements queue.Publisher
var _ queue.Publisher = (*Publisher)(nil)

// NewPublisher opens a channel on conn, declares the exchange and queue and
// puts the channel into confirm mode.
func NewPublisher(conn *amqp.Connection, cfg Config, logger *slog.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p, err := newPublisher(ch, cfg, logger)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(ch amqpChannel, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := declareExchange(ch, cfg); err != nil {
		return nil, err
	}
	// Declaring the queue here means messages published before any worker
	// starts are kept.
	if err := declareQueue(ch, cfg); err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &Publisher{
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "rabbitmq_publisher")),
	}, nil
}

// Publish implements queue.Publisher.
func (p *Publisher) Publish(ctx context.Context, msg queue.Message) error {
	body, err := queue.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", queue.ErrPublishFailed, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Confirms for publishes abandoned on a cancelled context can still be
	// buffered; only the confirm carrying this tag settles this publish.
	tag := p.ch.GetNextPublishSeqNo()

	err = p.ch.PublishWithContext(ctx,
		p.cfg.Exchange,
		p.cfg.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ProcessingJobID.String(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("failed to publish job message",
			slog.String("job_id", msg.ProcessingJobID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", queue.ErrPublishFailed, err)
	}

	if err := p.awaitConfirm(ctx, tag); err != nil {
		p.logger.Error("job message not confirmed",
			slog.String("job_id", msg.ProcessingJobID.String()),
			slog.Uint64("delivery_tag", tag),
			slog.String("error", err.Error()))
		return err
	}

	p.logger.Debug("job message published",
		slog.String("job_id", msg.ProcessingJobID.String()))
	return nil
}

func (p *Publisher) awaitConfirm(ctx context.Context, tag uint64) error {
	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				return fmt.Errorf("%w: channel closed before confirm", queue.ErrPublishFailed)
			}
			if confirm.DeliveryTag < tag {
				p.logger.Debug("discarding stale confirm",
					slog.Uint64("delivery_tag", confirm.DeliveryTag))
				continue
			}
			if !confirm.Ack {
				return fmt.Errorf("%w: broker nacked message", queue.ErrPublishFailed)
			}
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for confirm: %w", queue.ErrPublishFailed, ctx.Err())
		}
	}
}

// Close closes the underlying channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
