package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hansard-kg/engine/internal/timing"
	"github.com/hansard-kg/engine/pkg/graph"
	"github.com/hansard-kg/engine/pkg/logger"
	"github.com/hansard-kg/engine/pkg/mirror"

	"github.com/rabbitmq/amqp091-go"
)

// DefaultMaxRetries is how often a message is retried before it is moved
// to the dead letter queue.
const DefaultMaxRetries = 10

// ExtractJobMsg asks a worker to extract sittings. An empty VideoIDs list
// means every sitting with transcript rows.
type ExtractJobMsg struct {
	VideoIDs    []string `json:"youtube_video_ids"`
	RunID       string   `json:"run_id,omitempty"`
	MaxWindows  int      `json:"max_windows,omitempty"`
	MaxDuration string   `json:"max_duration,omitempty"`
	Debug       bool     `json:"debug,omitempty"`
}

func (m ExtractJobMsg) runOptions() (graph.RunOptions, error) {
	opts := graph.RunOptions{
		RunID:  m.RunID,
		Debug:  m.Debug,
		Budget: timing.Budget{MaxWindows: m.MaxWindows},
	}
	if m.MaxDuration != "" {
		d, err := time.ParseDuration(m.MaxDuration)
		if err != nil {
			return opts, fmt.Errorf("invalid max_duration %q: %w", m.MaxDuration, err)
		}
		opts.Budget.MaxDuration = d
	}
	return opts, nil
}

// SyncJobMsg asks a worker to mirror the graph.
type SyncJobMsg struct {
	mirror.Options
}

// RunFinishedEvent is published on TopicRunFinished after an extract job.
type RunFinishedEvent struct {
	Stats    graph.RunStats `json:"stats"`
	LinkRate float64        `json:"link_rate"`
	Error    string         `json:"error,omitempty"`
}

// ErrMalformedMessage marks a message that can never succeed. It is sent
// to the dead letter queue without retries.
var ErrMalformedMessage = errors.New("malformed message")

type videoLister interface {
	ListVideos(ctx context.Context) ([]string, error)
}

// Handler processes queue messages.
type Handler struct {
	graph  *graph.GraphClient
	videos videoLister
	syncer *mirror.Syncer
	events Publisher
}

type NewHandlerParams struct {
	Graph  *graph.GraphClient
	Videos videoLister
	// Syncer is optional; sync jobs fail without it.
	Syncer *mirror.Syncer
	// Events is optional; run notifications are skipped without it.
	Events Publisher
}

func NewHandler(params NewHandlerParams) (*Handler, error) {
	if params.Graph == nil || params.Videos == nil {
		return nil, errors.New("queue handler: graph client and video lister are required")
	}
	return &Handler{
		graph:  params.Graph,
		videos: params.Videos,
		syncer: params.Syncer,
		events: params.Events,
	}, nil
}

// Handle dispatches body by queue name.
func (h *Handler) Handle(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case ExtractQueue:
		return h.ProcessExtractMessage(ctx, body)
	case SyncQueue:
		return h.ProcessSyncMessage(ctx, body)
	default:
		return fmt.Errorf("%w: unknown queue %s", ErrMalformedMessage, queueName)
	}
}

func (h *Handler) ProcessExtractMessage(ctx context.Context, body []byte) error {
	var msg ExtractJobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	opts, err := msg.runOptions()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	videos := msg.VideoIDs
	if len(videos) == 0 {
		videos, err = h.videos.ListVideos(ctx)
		if err != nil {
			return fmt.Errorf("list videos: %w", err)
		}
	}
	logger.Info("[Queue] Extract job", "videos", len(videos), "run_id", opts.RunID)

	stats, err := h.graph.ProcessVideos(ctx, videos, opts)
	h.publishRunFinished(stats, err)
	return err
}

func (h *Handler) ProcessSyncMessage(ctx context.Context, body []byte) error {
	if h.syncer == nil {
		return errors.New("sync job received but no mirror is configured")
	}
	var msg SyncJobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	_, err := h.syncer.Sync(ctx, msg.Options)
	return err
}

func (h *Handler) publishRunFinished(stats graph.RunStats, runErr error) {
	if h.events == nil {
		return
	}
	ev := RunFinishedEvent{Stats: stats, LinkRate: stats.LinkRate()}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("[Queue] Could not encode run event", "err", err)
		return
	}
	if err := PublishTopic(h.events, TopicRunFinished, data); err != nil {
		logger.Warn("[Queue] Could not publish run event", "run_id", stats.RunID, "err", err)
	}
}

// Acknowledger is the delivery half of amqp091.Delivery.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Retries reads the x-retries header.
func Retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError moves a failed message to the retry queue, or to
// the dead letter queue once maxRetries is reached or the message is
// malformed. The original delivery is acked once the copy is published.
func HandleProcessingError(
	ch Publisher,
	ack Acknowledger,
	body []byte,
	headers amqp091.Table,
	queueName string,
	maxRetries int,
	processingErr error,
) {
	retries := Retries(headers)
	out := amqp091.Table{}
	for k, v := range headers {
		out[k] = v
	}

	target := RetryName(queueName)
	if retries >= maxRetries || errors.Is(processingErr, ErrMalformedMessage) {
		target = DLQName(queueName)
		if processingErr != nil {
			out["x-error"] = processingErr.Error()
		}
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries)
	} else {
		out["x-retries"] = int32(retries + 1)
	}

	err := ch.Publish("", target, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Headers:      out,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to publish failed message", "queue", target, "err", err)
		_ = ack.Nack(false, true)
		return
	}
	_ = ack.Ack(false)
}
