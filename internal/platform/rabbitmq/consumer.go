package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/dataprep-api/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer receives job messages with manual acknowledgement.
type Consumer struct {
	ch     amqpChannel
	cfg    Config
	logger *slog.Logger
}

// Ensure Consumer implements queue.Consumer
var _ queue.Consumer = (*Consumer)(nil)

// NewConsumer opens a channel on conn, declares and binds the queue and
// applies the prefetch limit.
func NewConsumer(conn *amqp.Connection, cfg Config, logger *slog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	c, err := newConsumer(ch, cfg, logger)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return c, nil
}

func newConsumer(ch amqpChannel, cfg Config, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}

	if err := declareExchange(ch, cfg); err != nil {
		return nil, err
	}
	if err := declareQueue(ch, cfg); err != nil {
		return nil, err
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	return &Consumer{
		ch:     ch,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "rabbitmq_consumer")),
	}, nil
}

// Consume implements queue.Consumer. Bodies that do not decode are
// rejected without requeue and never reach the caller.
func (c *Consumer) Consume(ctx context.Context) (<-chan queue.Delivery, error) {
	msgs, err := c.ch.Consume(
		c.cfg.QueueName,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %q: %w", c.cfg.QueueName, err)
	}

	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer shutting down")
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Warn("rabbitmq delivery channel closed")
					return
				}

				msg, err := queue.Decode(d.Body)
				if err != nil {
					c.logger.Error("dropping malformed job message",
						slog.String("message_id", d.MessageId),
						slog.String("error", err.Error()))
					_ = d.Nack(false, false)
					continue
				}

				delivery := queue.NewDelivery(msg,
					func() error { return d.Ack(false) },
					func(requeue bool) error { return d.Nack(false, requeue) },
				)

				select {
				case out <- delivery:
				case <-ctx.Done():
					// Not handed out; let the broker redeliver it.
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the underlying channel.
func (c *Consumer) Close() error {
	return c.ch.Close()
}
