package rabbitmq

import amqp "github.com/rabbitmq/amqp091-go"

// Queue names derived from the main queue.
func retryQueue(q string) string { return q + ".retry" }
func deadQueue(q string) string  { return q + ".dlq" }

// declareTopology declares the main queue, its dead-letter queue, and a retry
// queue whose expired messages dead-letter back into the main queue. Publisher
// and consumer both call it so either may start first.
func declareTopology(ch *amqp.Channel, queue string) error {
	// DLQ
	if _, err := ch.QueueDeclare(deadQueue(queue), true, false, false, false, nil); err != nil {
		return err
	}

	// retry: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(retryQueue(queue), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return err
	}

	// main: reject/nack(requeue=false) goes to the DLQ
	_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": deadQueue(queue),
	})
	return err
}

func dial(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}
