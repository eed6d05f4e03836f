package queue

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hansard-kg/engine/pkg/ai"
	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/graph"
	"github.com/hansard-kg/engine/pkg/mirror"
	"github.com/hansard-kg/engine/pkg/store/memory"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakePublisher struct {
	calls []published
	err   error
}

func (p *fakePublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAck) Ack(multiple bool) error {
	a.acked++
	return nil
}

func (a *fakeAck) Nack(multiple, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func TestRetries(t *testing.T) {
	tests := []struct {
		headers amqp091.Table
		want    int
	}{
		{nil, 0},
		{amqp091.Table{"x-retries": int32(3)}, 3},
		{amqp091.Table{"x-retries": int64(4)}, 4},
		{amqp091.Table{"x-retries": 5}, 5},
		{amqp091.Table{"x-retries": "7"}, 0},
	}
	for _, tt := range tests {
		if got := Retries(tt.headers); got != tt.want {
			t.Fatalf("Retries(%v): expected %d, got %d", tt.headers, tt.want, got)
		}
	}
}

func TestHandleProcessingError(t *testing.T) {
	tests := []struct {
		name        string
		headers     amqp091.Table
		err         error
		wantQueue   string
		wantRetries any
		wantError   bool
	}{
		{
			name:        "first failure goes to retry",
			err:         errors.New("provider timeout"),
			wantQueue:   "extract_queue_retry",
			wantRetries: int32(1),
		},
		{
			name:        "retry count grows",
			headers:     amqp091.Table{"x-retries": int32(4)},
			err:         errors.New("provider timeout"),
			wantQueue:   "extract_queue_retry",
			wantRetries: int32(5),
		},
		{
			name:        "max retries goes to dlq",
			headers:     amqp091.Table{"x-retries": int32(DefaultMaxRetries)},
			err:         errors.New("provider timeout"),
			wantQueue:   "extract_queue_dlq",
			wantRetries: int32(DefaultMaxRetries),
			wantError:   true,
		},
		{
			name:      "malformed goes straight to dlq",
			err:       ErrMalformedMessage,
			wantQueue: "extract_queue_dlq",
			wantError: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			ack := &fakeAck{}
			HandleProcessingError(pub, ack, []byte(`{}`), tt.headers, ExtractQueue, DefaultMaxRetries, tt.err)

			if len(pub.calls) != 1 {
				t.Fatalf("expected one publish, got %d", len(pub.calls))
			}
			call := pub.calls[0]
			if call.exchange != "" || call.key != tt.wantQueue {
				t.Fatalf("expected %s, got %q/%q", tt.wantQueue, call.exchange, call.key)
			}
			if got := call.msg.Headers["x-retries"]; got != tt.wantRetries {
				t.Fatalf("expected x-retries %v, got %v", tt.wantRetries, got)
			}
			if _, ok := call.msg.Headers["x-error"]; ok != tt.wantError {
				t.Fatalf("expected x-error present=%t", tt.wantError)
			}
			if ack.acked != 1 || ack.nacked != 0 {
				t.Fatalf("expected a single ack, got %+v", ack)
			}
		})
	}
}

func TestHandleProcessingError_PublishFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	ack := &fakeAck{}
	HandleProcessingError(pub, ack, nil, nil, SyncQueue, DefaultMaxRetries, errors.New("boom"))
	if ack.acked != 0 || ack.nacked != 1 || !ack.requeue {
		t.Fatalf("expected requeueing nack, got %+v", ack)
	}
}

func TestHandleProcessingError_KeepsHeaders(t *testing.T) {
	pub := &fakePublisher{}
	in := amqp091.Table{"trace": "abc"}
	HandleProcessingError(pub, &fakeAck{}, nil, in, SyncQueue, DefaultMaxRetries, errors.New("boom"))
	if pub.calls[0].msg.Headers["trace"] != "abc" {
		t.Fatalf("expected headers to be copied")
	}
	if _, ok := in["x-retries"]; ok {
		t.Fatalf("expected input headers to be left alone")
	}
}

func TestQueueNames(t *testing.T) {
	if DLQName(ExtractQueue) != "extract_queue_dlq" || RetryName(SyncQueue) != "sync_queue_retry" {
		t.Fatalf("unexpected derived queue names")
	}
}

func TestExtractJobMsg_RunOptions(t *testing.T) {
	opts, err := ExtractJobMsg{RunID: "r1", MaxWindows: 20, MaxDuration: "90s", Debug: true}.runOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.RunID != "r1" || !opts.Debug || opts.Budget.MaxWindows != 20 || opts.Budget.MaxDuration != 90*time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}

	if _, err := (ExtractJobMsg{MaxDuration: "soon"}).runOptions(); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

// unusedCompletion fails every call. Handler tests use sittings without
// transcript rows, so no window ever reaches the model.
type unusedCompletion struct{}

func (unusedCompletion) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("unexpected completion")
}

func (unusedCompletion) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	return errors.New("unexpected completion")
}

func (unusedCompletion) ModelName() string { return "unused" }

type unusedEmbedder struct{}

func (unusedEmbedder) GenerateEmbedding(ctx context.Context, input []byte, mode ai.EmbeddingMode) ([]float32, error) {
	return nil, errors.New("unexpected embedding")
}

func (unusedEmbedder) GenerateEmbeddings(ctx context.Context, inputs [][]byte, mode ai.EmbeddingMode) ([][]float32, error) {
	return nil, errors.New("unexpected embedding")
}

func (unusedEmbedder) EmbeddingDim() int { return 8 }

type staticLister struct {
	videos []string
	calls  int
}

func (l *staticLister) ListVideos(ctx context.Context) ([]string, error) {
	l.calls++
	return l.videos, nil
}

type nopSink struct{ nodes int }

func (s *nopSink) MergeNodes(ctx context.Context, nodes []common.Node) error {
	s.nodes += len(nodes)
	return nil
}

func (s *nopSink) MergeEdges(ctx context.Context, relType string, edges []common.Edge) error {
	return nil
}

func newTestHandler(t *testing.T, lister videoLister, syncer *mirror.Syncer, events Publisher) *Handler {
	t.Helper()
	gc, err := graph.NewGraphClient(graph.NewGraphClientParams{
		Completion: unusedCompletion{},
		Embedder:   unusedEmbedder{},
		Store:      memory.New(),
	})
	if err != nil {
		t.Fatalf("new graph client: %v", err)
	}
	h, err := NewHandler(NewHandlerParams{Graph: gc, Videos: lister, Syncer: syncer, Events: events})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func TestNewHandler_RequiresGraph(t *testing.T) {
	if _, err := NewHandler(NewHandlerParams{Videos: &staticLister{}}); err == nil {
		t.Fatalf("expected error without graph client")
	}
}

func TestHandle_ExtractPublishesRunEvent(t *testing.T) {
	lister := &staticLister{videos: []string{"vidA", "vidB"}}
	events := &fakePublisher{}
	h := newTestHandler(t, lister, nil, events)

	body, _ := json.Marshal(ExtractJobMsg{RunID: "run-q"})
	if err := h.Handle(context.Background(), ExtractQueue, body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if lister.calls != 1 {
		t.Fatalf("expected sittings to be listed once, got %d", lister.calls)
	}
	if len(events.calls) != 1 {
		t.Fatalf("expected one run event, got %d", len(events.calls))
	}
	call := events.calls[0]
	if call.exchange != EventsExchange || call.key != TopicRunFinished {
		t.Fatalf("unexpected routing %q/%q", call.exchange, call.key)
	}
	var ev RunFinishedEvent
	if err := json.Unmarshal(call.msg.Body, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Stats.RunID != "run-q" || ev.Error != "" || ev.Stats.WindowsProcessed != 0 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestHandle_ExtractWithExplicitVideos(t *testing.T) {
	lister := &staticLister{}
	h := newTestHandler(t, lister, nil, nil)
	body, _ := json.Marshal(ExtractJobMsg{VideoIDs: []string{"vidA"}})
	if err := h.Handle(context.Background(), ExtractQueue, body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if lister.calls != 0 {
		t.Fatalf("expected no listing when videos are given")
	}
}

func TestHandle_Malformed(t *testing.T) {
	h := newTestHandler(t, &staticLister{}, nil, nil)
	tests := []struct {
		name  string
		queue string
		body  string
	}{
		{"bad json", ExtractQueue, `{"youtube_video_ids":`},
		{"bad duration", ExtractQueue, `{"max_duration":"later"}`},
		{"bad sync json", SyncQueue, `[`},
		{"unknown queue", "other_queue", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Handle(context.Background(), tt.queue, []byte(tt.body))
			if tt.name == "bad sync json" {
				// Without a mirror the job fails before decoding.
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("expected malformed message, got %v", err)
			}
		})
	}
}

func TestHandle_Sync(t *testing.T) {
	st := memory.New()
	_, err := st.ApplyDelta(context.Background(), common.GraphDelta{
		Nodes: []common.Node{{ID: "kg_a", Type: common.TypeConcept, Label: "water"}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	sink := &nopSink{}
	syncer, err := mirror.NewSyncer(mirror.NewSyncerParams{Source: st, Sink: sink})
	if err != nil {
		t.Fatalf("new syncer: %v", err)
	}
	h := newTestHandler(t, &staticLister{}, syncer, nil)

	body, _ := json.Marshal(SyncJobMsg{Options: mirror.Options{SkipEdges: true}})
	if err := h.Handle(context.Background(), SyncQueue, body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sink.nodes != 1 {
		t.Fatalf("expected one mirrored node, got %d", sink.nodes)
	}

	var decoded SyncJobMsg
	_ = json.Unmarshal(body, &decoded)
	if !reflect.DeepEqual(decoded.Options, mirror.Options{SkipEdges: true}) {
		t.Fatalf("expected embedded options to round trip, got %+v", decoded)
	}
}
