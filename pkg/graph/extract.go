package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/ai"
	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/logger"
)

const (
	minTargetEdges       = 4
	DefaultMaxAddedEdges = 6
)

// Pass names recorded on Result.Timings.
const (
	PassDraft     = "draft"
	PassAdditions = "additions"
	PassRepair    = "repair"
)

// Extractor runs the two-pass extraction protocol for one window.
//
// Pass 1 drafts a recall-biased answer. A draft without violations gets an
// additions-only pass that is merged into it; a draft with violations gets
// a repair pass whose answer replaces it. An answer that still violates a
// rule after repair fails the window.
type Extractor struct {
	completion    ai.CompletionProvider
	retry         util.RetryPolicy
	tokenBudget   int
	maxAddedEdges int
}

// NewExtractorParams configures an Extractor.
type NewExtractorParams struct {
	Completion ai.CompletionProvider
	Retry      util.RetryPolicy
	// TokenBudget caps the known nodes table, in tokens.
	TokenBudget   int
	MaxAddedEdges int
}

func NewExtractor(params NewExtractorParams) (*Extractor, error) {
	if params.Completion == nil {
		return nil, errors.New("extractor: completion provider is nil")
	}
	budget := params.TokenBudget
	if budget <= 0 {
		budget = DefaultKnownTokenBudget
	}
	maxAdded := params.MaxAddedEdges
	if maxAdded <= 0 {
		maxAdded = DefaultMaxAddedEdges
	}
	return &Extractor{
		completion:    params.Completion,
		retry:         params.Retry,
		tokenBudget:   budget,
		maxAddedEdges: maxAdded,
	}, nil
}

// ModelName is recorded on every edge the extractor produces.
func (x *Extractor) ModelName() string {
	return x.completion.ModelName()
}

// TargetEdges is the recall floor asked of the draft pass.
func TargetEdges(w common.Window) int {
	return max(minTargetEdges, len(w.Utterances)+2)
}

// Extract runs the protocol against w and its candidates. The returned
// Scope is the one the answer was validated against; canonicalization must
// use the same one.
//
// Schema violations and unparseable answers are reported through
// Result.Kind. The error is only set when a provider call failed after its
// retry policy gave up, in which case it is a *ProviderError.
func (x *Extractor) Extract(ctx context.Context, w common.Window, candidates []Candidate) (Result, Scope, error) {
	res := Result{Window: w.Index}

	table, known := x.knownNodes(w, candidates)
	scope := NewScope(w, known)

	prompt := x.draftPrompt(w, table)
	var draft Draft
	raw, err := x.pass(ctx, &res, PassDraft, prompt, "kg_delta", "Knowledge graph delta for one transcript window", &draft)
	if err != nil {
		return res, scope, err
	}
	if raw == "" {
		res.Kind = ResultParseFailure
		return res, scope, nil
	}
	normalizeDraft(&draft, w)

	issues := Validate(draft, scope)
	if len(issues) == 0 {
		res.Branch = PassAdditions
		res.Kind = ResultValidated
		res.Delta = x.additions(ctx, &res, w, table, draft, scope)
		return res, scope, nil
	}

	logger.Debug("[Extract] Draft has violations, repairing", "window", w.Index, "kind", w.Kind, "issues", len(issues))
	res.Branch = PassRepair
	draftJSON, _ := json.Marshal(draft)
	prompt = fmt.Sprintf(ai.ExtractRepairPrompt,
		w.Text, table,
		common.JoinPredicates(common.PredicatesFor(w.Kind)),
		nodeTypesFor(w.Kind),
		string(draftJSON),
		FormatIssues(issues),
		x.maxAddedEdges,
	)
	var repaired Draft
	raw, err = x.pass(ctx, &res, PassRepair, prompt, "kg_delta", "Corrected knowledge graph delta", &repaired)
	if err != nil {
		return res, scope, err
	}
	if raw == "" {
		res.Kind = ResultParseFailure
		res.Issues = issues
		return res, scope, nil
	}
	normalizeDraft(&repaired, w)

	if issues := Validate(repaired, scope); len(issues) > 0 {
		res.Kind = ResultSchemaViolation
		res.Issues = issues
		return res, scope, nil
	}
	res.Kind = ResultValidated
	res.Delta = repaired
	return res, scope, nil
}

// additions runs the additions-only pass. Any failure keeps the draft.
func (x *Extractor) additions(ctx context.Context, res *Result, w common.Window, table string, draft Draft, scope Scope) Draft {
	draftJSON, _ := json.Marshal(draft)
	target := TargetEdges(w)
	prompt := fmt.Sprintf(ai.ExtractAdditionsPrompt,
		w.Text, table,
		common.JoinPredicates(common.PredicatesFor(w.Kind)),
		nodeTypesFor(w.Kind),
		string(draftJSON),
		x.maxAddedEdges,
		target,
	)
	var add Additions
	raw, err := x.pass(ctx, res, PassAdditions, prompt, "kg_additions", "Edges and nodes missing from the draft", &add)
	if err != nil || raw == "" {
		logger.Warn("[Extract] Additions pass failed, keeping draft", "window", w.Index, "err", err)
		return draft
	}
	if len(add.EdgesAdd) > x.maxAddedEdges {
		add.EdgesAdd = add.EdgesAdd[:x.maxAddedEdges]
	}
	merged, dropped := mergeAdditions(draft, add, scope)
	if dropped > 0 {
		logger.Debug("[Extract] Dropped additions", "window", w.Index, "dropped", dropped)
	}
	return merged
}

func (x *Extractor) knownNodes(w common.Window, candidates []Candidate) (string, []Candidate) {
	if w.Kind == common.WindowDiscourse {
		speakers := make([]Candidate, 0, len(candidates))
		for _, c := range candidates {
			if c.Source == CandidateSpeaker {
				speakers = append(speakers, c)
			}
		}
		candidates = speakers
	}
	return FormatKnownNodes(candidates, x.tokenBudget)
}

func (x *Extractor) draftPrompt(w common.Window, table string) string {
	if w.Kind == common.WindowDiscourse {
		return fmt.Sprintf(ai.ExtractDiscoursePrompt,
			w.Text,
			speakersPresent(w, table),
			common.JoinPredicates(common.DiscoursePredicates),
		)
	}
	target := TargetEdges(w)
	return fmt.Sprintf(ai.ExtractDraftPrompt,
		w.Text, table,
		common.JoinPredicates(common.ConceptPredicates),
		common.JoinNodeTypes(common.NodeTypes),
		target, target,
	)
}

func speakersPresent(w common.Window, table string) string {
	lines := make([]string, 0, len(w.SpeakerIDs)+1)
	for _, sid := range w.SpeakerIDs {
		lines = append(lines, "- "+common.SpeakerNodeID(sid))
	}
	return strings.Join(lines, "\n") + "\n\n" + table
}

func nodeTypesFor(kind common.WindowKind) string {
	if kind == common.WindowDiscourse {
		return "none (discourse windows create no nodes)"
	}
	return common.JoinNodeTypes(common.NodeTypes)
}

// pass makes one completion call and decodes the answer into out. It returns
// the raw answer, or "" when no JSON object could be recovered from it.
//
// The call is retried by the extractor's policy. When the model keeps
// answering with nothing, one last call is made without the response schema,
// since some servers return empty content in structured output mode.
func (x *Extractor) pass(
	ctx context.Context,
	res *Result,
	pass string,
	prompt string,
	schemaName string,
	schemaDescription string,
	out any,
) (string, error) {
	opts := []ai.GenerateOption{
		ai.WithSystemPrompts(ai.ExtractSystemPrompt),
		ai.WithTemperature(0),
		ai.WithResponseSchema(schemaName, schemaDescription, ai.GenerateSchema(out)),
	}
	res.Prompts = append(res.Prompts, prompt)

	start := time.Now()
	raw, err := util.RetryWithPolicy(ctx, x.retry, func(ctx context.Context) (string, error) {
		return x.completion.GenerateCompletion(ctx, prompt, opts...)
	})
	if errors.Is(err, ai.ErrEmptyResponse) {
		logger.Debug("[Extract] Empty response, retrying without schema", "pass", pass)
		raw, err = x.completion.GenerateCompletion(ctx, prompt, append(opts, ai.WithoutResponseSchema())...)
	}
	res.Timings = append(res.Timings, PassTiming{Pass: pass, Duration: time.Since(start)})
	if err != nil {
		return "", providerErr("complete "+pass, err)
	}
	res.Raw = append(res.Raw, raw)

	if err := ai.ParseJSONObject(raw, out); err != nil {
		logger.Debug("[Extract] Could not parse model answer", "pass", pass, "err", err)
		return "", nil
	}
	return raw, nil
}
