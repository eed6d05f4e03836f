package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/hansard-kg/engine/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateCompletion sends a single-turn prompt and returns assistant text.
// A response schema set via ai.WithResponseSchema is passed as Ollama's
// structured output format.
func (c *GraphOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0,
	}, opts...)

	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	if options.Schema != nil {
		formatBytes, err := json.Marshal(options.Schema.Schema)
		if err != nil {
			return "", err
		}
		req.Format = json.RawMessage(formatBytes)
	}

	if options.Thinking != "" {
		req.Think = &api.ThinkValue{
			Value: options.Thinking,
		}
	}

	tokens := 200 + ai.CountTokens(prompt+strings.Join(options.SystemPrompts, "\n"))
	if tokens > defaultContextTokens {
		req.Options["num_ctx"] = tokens
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	var final api.ChatResponse
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.DoneReason = cr.DoneReason
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", wrapError(err)
	}

	c.Record(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
		WallClockMs:  time.Since(start).Milliseconds(),
	})

	if strings.TrimSpace(final.Message.Content) == "" {
		return "", fmt.Errorf("%w (done_reason: %s)", ai.ErrEmptyResponse, final.DoneReason)
	}
	return final.Message.Content, nil
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if out == nil {
		return errors.New("out must be a non-nil pointer")
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	opts = append(opts, ai.WithResponseSchema(name, description, ai.GenerateSchema(out)))
	message, err := c.GenerateCompletion(ctx, prompt, opts...)
	if err != nil {
		return err
	}
	return ai.ParseJSONObject(message, out)
}

// LoadModel preloads the extraction model into memory to reduce latency on
// the first window.
func (c *GraphOllamaClient) LoadModel(ctx context.Context) error {
	req := &api.ChatRequest{
		Model: c.extractionModel,
	}
	return wrapError(c.Client.Chat(ctx, req, func(api.ChatResponse) error {
		return nil
	}))
}
