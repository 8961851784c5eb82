// Package queue owns the RabbitMQ plumbing for the extraction and ingestion
// pipeline: queue topology, publishing, and the per-job processors the
// worker runs.
package queue

import (
	"time"

	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// ExtractQueue carries documents waiting for LLM entity extraction.
	ExtractQueue = "extract_queue"
	// IngestQueue carries documents whose staged extraction is ready to be
	// resolved into the knowledge graph.
	IngestQueue = "ingest_queue"
)

// Queues lists every work queue the worker consumes, in consumption order.
var Queues = []string{ExtractQueue, IngestQueue}

// retryDelayMs is how long a failed message parks in the retry queue before
// being dead-lettered back onto the work queue.
const retryDelayMs = 10000

func Init(url string) *amqp091.Connection {
	conn, err := amqp091.Dial(url)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	return conn
}

// SetupQueues declares each work queue together with its retry queue and
// dead-letter queue. The retry queue holds messages for retryDelayMs and
// then routes them back to the work queue via the default exchange.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return err
		}

		_, err = ch.QueueDeclare(
			name+"_dlq",
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return err
		}

		_, err = ch.QueueDeclare(
			name+"_retry",
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelayMs),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// PublishFIFO puts one persistent message on the named queue.
func PublishFIFO(ch *amqp091.Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	return ch.Publish(
		"",
		q.Name,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}
