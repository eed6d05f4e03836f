package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hansard-kg/engine/internal/util"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExtractQueue = "extract_queue"
	SyncQueue    = "sync_queue"

	// EventsExchange carries run notifications such as TopicRunFinished.
	EventsExchange   = "kg_events"
	TopicRunFinished = "kg.run.finished"

	retryDelay = 10 * time.Second
)

// Queues are the work queues a worker consumes.
var Queues = []string{ExtractQueue, SyncQueue}

// URLFromEnv builds the broker url from RABBITMQ_USER, RABBITMQ_PASSWORD,
// RABBITMQ_HOST and RABBITMQ_PORT.
func URLFromEnv() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnv("RABBITMQ_USER"),
		util.GetEnv("RABBITMQ_PASSWORD"),
		util.GetEnvString("RABBITMQ_HOST", "localhost"),
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)
}

func Init(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return conn, nil
}

// SetupQueues declares the events exchange and, for every queue, the queue
// itself, a dead letter queue and a retry queue that routes back after
// retryDelay.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	err := ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", EventsExchange, err)
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}

		dlqName := DLQName(name)
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlqName, err)
		}

		retryName := RetryName(name)
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", retryName, err)
		}
	}
	return nil
}

func DLQName(queueName string) string {
	return queueName + "_dlq"
}

func RetryName(queueName string) string {
	return queueName + "_retry"
}

// Publisher is the publishing half of *amqp091.Channel.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// PublishFIFO sends data to a durable queue through the default exchange.
func PublishFIFO(ch Publisher, queueName string, data []byte) error {
	return ch.Publish(
		"",
		queueName,
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

// PublishTopic sends data to EventsExchange under topic.
func PublishTopic(ch Publisher, topic string, data []byte) error {
	return ch.Publish(
		EventsExchange,
		topic,
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

// Enqueue declares the work queues on conn and publishes msg as JSON to
// queueName.
func Enqueue(conn *amqp091.Connection, queueName string, msg any) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := SetupQueues(ch, Queues); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return PublishFIFO(ch, queueName, data)
}
