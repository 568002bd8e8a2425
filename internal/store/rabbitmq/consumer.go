package rabbitmq

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/keystone/internal/worker"
)

type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *slog.Logger
}

func NewConsumer(url, queue string, logger *slog.Logger) (*Consumer, error) {
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, logger: logger}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Tasks starts consuming with the given prefetch and converts deliveries into
// worker tasks. The returned channel closes when ctx is done or the broker
// closes the delivery stream.
func (c *Consumer) Tasks(ctx context.Context, prefetch int) (<-chan worker.Task, error) {
	// strict concurrency control
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan worker.Task)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Warn("delivery channel closed", slog.String("queue", c.queue))
					return
				}
				select {
				case out <- toTask(d):
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func toTask(d amqp.Delivery) worker.Task {
	return worker.Task{
		JobID: decodeJob(d.Body),
		Ack:   func() error { return d.Ack(false) },
		// requeue=false routes the message to the DLQ
		Nack: func() error { return d.Nack(false, false) },
	}
}
