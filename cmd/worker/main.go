package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hansard-kg/engine/internal/app"
	"github.com/hansard-kg/engine/internal/queue"
	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/graph"
	"github.com/hansard-kg/engine/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	app.InitLogger("worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := app.WireClients(ctx)
	if err != nil {
		logger.Fatal("Could not wire clients", "err", err)
	}
	defer clients.Close()

	failures, err := app.NewFailureSink(ctx, "")
	if err != nil {
		logger.Fatal("Could not create failure sink", "err", err)
	}

	params := clients.GraphParams()
	params.Locker = clients.NewLocker()
	params.Failures = failures
	graphClient, err := graph.NewGraphClient(params)
	if err != nil {
		logger.Fatal("Could not create graph client", "err", err)
	}

	syncer, closeSyncer, err := clients.NewSyncer(ctx)
	if err != nil {
		logger.Fatal("Could not connect graph mirror", "err", err)
	}
	defer closeSyncer()

	// Init rabbitmq
	conn, err := queue.Init(queue.URLFromEnv())
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	handler, err := queue.NewHandler(queue.NewHandlerParams{
		Graph:  graphClient,
		Videos: clients.Store,
		Syncer: syncer,
		Events: ch,
	})
	if err != nil {
		logger.Fatal("Could not create queue handler", "err", err)
	}

	// A single consumer channel with prefetch=1 delivers one message at a
	// time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			msgs, err := consumerCh.Consume(
				qName,
				fmt.Sprintf("%s_consumer", qName),
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("[Queue] Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("[Queue] Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	logger.Info("[Queue] Listening for messages", "queues", queue.Queues)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("[Queue] Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("[Queue] Received message", "queue", qm.queueName, "retries", queue.Retries(qm.msg.Headers))

				processingErr := handler.Handle(ctx, qm.queueName, qm.msg.Body)
				if processingErr != nil {
					logger.Error("[Queue] Error processing message", "queue", qm.queueName, "err", processingErr)
					queue.HandleProcessingError(
						consumerCh,
						qm.msg,
						qm.msg.Body,
						qm.msg.Headers,
						qm.queueName,
						util.GetEnvInt("KG_MAX_RETRIES", queue.DefaultMaxRetries),
						processingErr,
					)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("[Queue] Failed to ack message", "err", err)
					}
					logger.Info("[Queue] Message processed successfully", "queue", qm.queueName)
				}

				app.LogAIMetrics(clients.AI)
				logger.Info("[Queue] Processing time", "duration", util.FormatDuration(time.Since(startTime)))
				logger.Info("[Queue] Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
