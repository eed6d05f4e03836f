package ai

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestUnmarshalFlexible_ObjectVariants(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age,omitempty"`
	}

	tests := []struct {
		name  string
		input string
		want  person
	}{
		{
			name:  "valid json object",
			input: `{"name":"John"}`,
			want:  person{Name: "John"},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{name: 'John'}`,
			want:  person{Name: "John"},
		},
		{
			name:  "trailing comma",
			input: `{"name":"John",}`,
			want:  person{Name: "John"},
		},
		{
			name:  "missing endbracket",
			input: `{"name":"John`,
			want:  person{Name: "John"},
		},
		{
			name:  "stringified invalid json object",
			input: `"{name: 'John'}"`,
			want:  person{Name: "John"},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"name\": \"John\"\n}\n",
			want:  person{Name: "John"},
		},
		{
			name:  "duplicate leading brace no newlines",
			input: `{ { "name": "John" }`,
			want:  person{Name: "John"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got person
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got.Name != tc.want.Name || got.Age != tc.want.Age {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestUnmarshalFlexible_ArrayVariants(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age,omitempty"`
	}

	input := `[{name:'A'},{name:'B',}]`
	var got []person
	if err := UnmarshalFlexible(input, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "A" || got[1].Name != "B" {
		t.Fatalf("UnmarshalFlexible() got = %+v, want two persons A,B", got)
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age,omitempty"`
	}

	var got person
	if err := UnmarshalFlexible("hello", &got); err == nil {
		t.Fatalf("UnmarshalFlexible() expected error for unrecoverable input")
	}
}

func TestUnmarshalFlexible_DeltaExamples(t *testing.T) {
	type edge struct {
		Source    string `json:"source_ref"`
		Predicate string `json:"predicate"`
		Target    string `json:"target_ref"`
	}
	type delta struct {
		Edges []edge `json:"edges"`
	}

	tests := []struct {
		name  string
		input string
		want  delta
	}{
		{
			name:  "stringified delta",
			input: `"{ \"edges\": [ { \"source_ref\": \"speaker_s_1\", \"predicate\": \"PROPOSES\", \"target_ref\": \"n1\" } ] }"`,
			want:  delta{Edges: []edge{{"speaker_s_1", "PROPOSES", "n1"}}},
		},
		{
			name:  "single quotes and trailing comma",
			input: `{'edges': [{'source_ref': 'n1', 'predicate': 'AMENDS', 'target_ref': 'kg_abc',},]}`,
			want:  delta{Edges: []edge{{"n1", "AMENDS", "kg_abc"}}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got delta
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{
			name:   "bare object",
			input:  `{"a":1}`,
			want:   `{"a":1}`,
			wantOK: true,
		},
		{
			name:   "json fence",
			input:  "Here you go:\n```json\n{\"a\": {\"b\": 2}}\n```\nDone.",
			want:   `{"a": {"b": 2}}`,
			wantOK: true,
		},
		{
			name:   "plain fence",
			input:  "```\n{\"a\":1}\n```",
			want:   `{"a":1}`,
			wantOK: true,
		},
		{
			name:   "prose around object",
			input:  `Sure! {"a":"x}y"} hope that helps {"b":2}`,
			want:   `{"a":"x}y"}`,
			wantOK: true,
		},
		{
			name:   "escaped quote inside string",
			input:  `{"a":"say \"}\" now"} trailing`,
			want:   `{"a":"say \"}\" now"}`,
			wantOK: true,
		},
		{
			name:   "unterminated object",
			input:  `result: {"a": [1, 2`,
			want:   `{"a": [1, 2`,
			wantOK: true,
		},
		{
			name:   "no object",
			input:  "I cannot help with that.",
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "   ",
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tc.input)
			if ok != tc.wantOK {
				t.Fatalf("ExtractJSONObject() ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && got != tc.want {
				t.Fatalf("ExtractJSONObject() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseJSONObject_RepairsUnterminated(t *testing.T) {
	var got struct {
		A []int `json:"a"`
	}
	if err := ParseJSONObject("```json\n{\"a\": [1, 2\n```", &got); err != nil {
		t.Fatalf("ParseJSONObject() error = %v", err)
	}
	if !reflect.DeepEqual(got.A, []int{1, 2}) {
		t.Fatalf("ParseJSONObject() got %v", got.A)
	}
	if err := ParseJSONObject("no json here", &got); err == nil {
		t.Fatal("expected error for text without an object")
	}
}

func TestEmbeddingPrefixes_Apply(t *testing.T) {
	p := EmbeddingPrefixes{Query: "q: ", Document: "d: "}
	if got := p.Apply(EmbeddingModeQuery, "water bill"); got != "q: water bill" {
		t.Fatalf("query prefix: %q", got)
	}
	if got := p.Apply(EmbeddingModeDocument, "water bill"); got != "d: water bill" {
		t.Fatalf("document prefix: %q", got)
	}
	if got := p.Apply(EmbeddingModeQuery, "  "); got != "  " {
		t.Fatalf("blank input should stay blank: %q", got)
	}
}

func TestFitDimension(t *testing.T) {
	if got := FitDimension([]float32{1, 2, 3}, 2); !reflect.DeepEqual(got, []float32{1, 2}) {
		t.Fatalf("truncate: %v", got)
	}
	if got := FitDimension([]float32{1}, 3); !reflect.DeepEqual(got, []float32{1, 0, 0}) {
		t.Fatalf("pad: %v", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"empty response", fmt.Errorf("pass 1: %w", ErrEmptyResponse), true},
		{"rate limited", &StatusError{Provider: "openai", StatusCode: 429, Err: errors.New("slow down")}, true},
		{"server error", &StatusError{Provider: "ollama", StatusCode: 503, Err: errors.New("busy")}, true},
		{"bad request", &StatusError{Provider: "openai", StatusCode: 400, Err: errors.New("bad schema")}, false},
		{"cancelled", context.Canceled, false},
		{"transport", errors.New("connection reset by peer"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestMetricsRecorder(t *testing.T) {
	var r MetricsRecorder
	r.Record(ModelMetrics{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, DurationMs: 500})
	r.Record(ModelMetrics{InputTokens: 5, TotalTokens: 5, DurationMs: 500})
	got := r.GetMetrics()
	if got.TotalTokens != 20 || got.Requests != 2 || got.TokenPerSecond != 20 {
		t.Fatalf("unexpected metrics %+v", got)
	}
	r.ResetMetrics()
	if r.GetMetrics() != (ModelMetrics{}) {
		t.Fatal("reset did not clear metrics")
	}
}
