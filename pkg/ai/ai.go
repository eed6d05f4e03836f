package ai

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a model answers with no content.
var ErrEmptyResponse = errors.New("empty response from model")

// EmbeddingMode selects the instruction prefix used when embedding text.
// Retrieval models embed questions and stored passages differently.
type EmbeddingMode string

const (
	EmbeddingModeQuery    EmbeddingMode = "query"
	EmbeddingModeDocument EmbeddingMode = "document"
)

// ResponseSchema asks the model for structured output matching Schema.
type ResponseSchema struct {
	Name        string
	Description string
	Schema      any
}

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string          // Model identifier to use for generation
	SystemPrompts []string        // System prompts prepended to the request
	Temperature   float64         // Sampling temperature (0.0-2.0)
	Thinking      string          // Extended thinking mode configuration
	Schema        *ResponseSchema // Structured output schema, nil for free text
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	WallClockMs    int64   `json:"wall_clock_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
	Requests       int     `json:"requests"`
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
// Higher values (e.g., 1.0) produce more random outputs, while lower values
// (e.g., 0.2) make outputs more focused and deterministic.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking returns a GenerateOption that enables extended thinking mode.
// The thinking parameter specifies the thinking budget or mode configuration.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// WithResponseSchema requests structured JSON output. Providers that cannot
// enforce a schema fall back to plain JSON mode.
func WithResponseSchema(name, description string, schema any) GenerateOption {
	return func(o *GenerateOptions) {
		o.Schema = &ResponseSchema{Name: name, Description: description, Schema: schema}
	}
}

// WithoutResponseSchema clears a previously set schema.
func WithoutResponseSchema() GenerateOption {
	return func(o *GenerateOptions) {
		o.Schema = nil
	}
}

// ApplyOptions folds opts over base.
func ApplyOptions(base GenerateOptions, opts ...GenerateOption) GenerateOptions {
	for _, o := range opts {
		o(&base)
	}
	return base
}

// CompletionProvider generates text from a prompt.
//
// GenerateCompletion returns the raw model text. An empty answer is reported
// as ErrEmptyResponse so callers can retry.
//
// Example:
//
//	raw, err := client.GenerateCompletion(ctx, prompt,
//		ai.WithSystemPrompts(ai.ExtractSystemPrompt),
//		ai.WithTemperature(0),
//		ai.WithResponseSchema("kg_delta", "knowledge graph delta", ai.GenerateSchema(&out)),
//	)
type CompletionProvider interface {
	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error
	// ModelName identifies the model used for extraction. It is recorded on
	// edges for auditing only.
	ModelName() string
}

// EmbeddingProvider turns text into fixed-dimension vectors.
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, input []byte, mode EmbeddingMode) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, inputs [][]byte, mode EmbeddingMode) ([][]float32, error)
	EmbeddingDim() int
}

// MetricsReporter exposes accumulated token usage.
type MetricsReporter interface {
	ResetMetrics()
	GetMetrics() ModelMetrics
}

// GraphAIClient is implemented by the provider adapters in pkg/ai/openai and
// pkg/ai/ollama.
type GraphAIClient interface {
	CompletionProvider
	EmbeddingProvider
	MetricsReporter
}
