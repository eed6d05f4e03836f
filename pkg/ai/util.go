package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
	"github.com/pkoukk/tiktoken-go"
)

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// GenerateSchema creates a JSON Schema from the given Go type.
// It uses reflection to inspect the type structure and generates
// a schema suitable for use with AI structured output.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// UnmarshalFlexible attempts to unmarshal JSON into the target with multiple fallback strategies.
// It first tries standard JSON unmarshaling, then handles double-encoded JSON strings,
// and finally attempts to repair malformed JSON before parsing.
//
// This is useful for parsing AI-generated JSON which may be malformed or wrapped in strings.
//
// Example:
//
//	var result MyStruct
//	// All of these inputs would work:
//	UnmarshalFlexible(`{"name": "test"}`, &result)           // standard JSON
//	UnmarshalFlexible(`"{\"name\": \"test\"}"`, &result)     // double-encoded
//	UnmarshalFlexible(`{name: "test"}`, &result)             // malformed (repaired)
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}

	if err := json.Unmarshal([]byte(repaired), out); err == nil {
		return nil
	}

	return fmt.Errorf(
		"unmarshal failed after repair: input=%s repaired=%s",
		input, repaired,
	)
}

// ExtractJSONObject pulls the first JSON object out of a model answer.
// It looks inside a ```json fence, then any ``` fence, then falls back to the
// first balanced top-level {...} in the text. ok is false when no object
// start was found at all.
func ExtractJSONObject(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", false
	}

	if body, ok := fencedBlock(text, "```json"); ok {
		text = body
	} else if body, ok := fencedBlock(text, "```"); ok {
		text = body
	}

	if obj, ok := balancedObject(text); ok {
		return obj, true
	}
	if i := strings.IndexByte(text, '{'); i >= 0 {
		// Unterminated object, leave closing to jsonrepair.
		return text[i:], true
	}
	return "", false
}

// ParseJSONObject extracts and decodes the JSON object in raw into out.
func ParseJSONObject(raw string, out any) error {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return fmt.Errorf("no json object in model response")
	}
	return UnmarshalFlexible(obj, out)
}

func fencedBlock(text, fence string) (string, bool) {
	start := strings.Index(text, fence)
	if start < 0 {
		return "", false
	}
	body := text[start+len(fence):]
	// Skip an info string such as "javascript" on the fence line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.Contains(body[:nl], "{") {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body), true
}

func balancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

// CountTokens estimates the token count of text with the o200k_base encoding.
// If the encoding cannot be loaded it falls back to a chars/4 estimate.
func CountTokens(text string) int {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("o200k_base")
	})
	if encErr != nil || enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EmbeddingPrefixes holds the instruction prefixes prepended per EmbeddingMode.
type EmbeddingPrefixes struct {
	Query    string
	Document string
}

// EmbeddingPrefixesFromEnv reads AI_EMBED_QUERY_PREFIX and AI_EMBED_DOCUMENT_PREFIX.
// The defaults match nomic-embed-text style task prefixes.
func EmbeddingPrefixesFromEnv() EmbeddingPrefixes {
	return EmbeddingPrefixes{
		Query:    util.GetEnvString("AI_EMBED_QUERY_PREFIX", "search_query: "),
		Document: util.GetEnvString("AI_EMBED_DOCUMENT_PREFIX", "search_document: "),
	}
}

// Apply prepends the prefix for mode. Empty input stays empty.
func (p EmbeddingPrefixes) Apply(mode EmbeddingMode, input string) string {
	if strings.TrimSpace(input) == "" {
		return input
	}
	switch mode {
	case EmbeddingModeQuery:
		return p.Query + input
	case EmbeddingModeDocument:
		return p.Document + input
	default:
		return input
	}
}

// FitDimension truncates or zero-pads vec to dim.
func FitDimension(vec []float32, dim int) []float32 {
	if dim <= 0 || len(vec) == dim {
		return vec
	}
	if len(vec) > dim {
		return vec[:dim]
	}
	padded := make([]float32, dim)
	copy(padded, vec)
	return padded
}
