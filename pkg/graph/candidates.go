package graph

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/ai"
	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/store"
)

const (
	DefaultTopK              = 25
	DefaultMaxCandidates     = 40
	MinMaxCandidates         = 30
	MaxMaxCandidates         = 60
	DefaultKnownTokenBudget  = 3000
	maxPhraseWords           = 6
	maxKnownAliasesPerRow    = 3
	aliasLookupLimitPerQuery = 50
)

// Candidate sources.
const (
	CandidateVector  = "vector"
	CandidateAlias   = "alias"
	CandidateSpeaker = "speaker"
	CandidateSeed    = "sitting_seed"
)

// Candidate is a known node offered to the extractor.
type Candidate struct {
	Node       common.Node
	Similarity float64
	Source     string
	// Pinned candidates come from exact lookups and are dropped last.
	Pinned bool
}

// CandidateRetriever finds the already known nodes relevant to a window.
type CandidateRetriever struct {
	store    store.CandidateSource
	embedder ai.EmbeddingProvider

	aiRetry    util.RetryPolicy
	storeRetry util.RetryPolicy

	topK          int
	maxCandidates int
	tokenBudget   int
}

// NewCandidateRetrieverParams configures a CandidateRetriever.
//
// MaxCandidates is clamped to [30, 60].
type NewCandidateRetrieverParams struct {
	Store    store.CandidateSource
	Embedder ai.EmbeddingProvider

	AIRetry    util.RetryPolicy
	StoreRetry util.RetryPolicy

	TopK          int
	MaxCandidates int
	TokenBudget   int
}

func NewCandidateRetriever(params NewCandidateRetrieverParams) (*CandidateRetriever, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("candidate retriever: store is nil")
	}
	if params.Embedder == nil {
		return nil, fmt.Errorf("candidate retriever: embedder is nil")
	}
	topK := params.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	maxCandidates := params.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	maxCandidates = min(max(maxCandidates, MinMaxCandidates), MaxMaxCandidates)
	budget := params.TokenBudget
	if budget <= 0 {
		budget = DefaultKnownTokenBudget
	}
	return &CandidateRetriever{
		store:         params.Store,
		embedder:      params.Embedder,
		aiRetry:       params.AIRetry,
		storeRetry:    params.StoreRetry,
		topK:          topK,
		maxCandidates: maxCandidates,
		tokenBudget:   budget,
	}, nil
}

// Retrieve unions vector hits for the window text, exact alias hits for
// phrases in the window, the window's speaker nodes and the nodes seeded
// for the sitting. The result is ordered by similarity and capped.
func (r *CandidateRetriever) Retrieve(ctx context.Context, w common.Window) ([]Candidate, error) {
	if len(w.Utterances) == 0 {
		return nil, nil
	}

	byID := map[string]*Candidate{}
	add := func(n common.Node, sim float64, source string, pinned bool) {
		if cur, ok := byID[n.ID]; ok {
			cur.Similarity = max(cur.Similarity, sim)
			cur.Pinned = cur.Pinned || pinned
			return
		}
		byID[n.ID] = &Candidate{Node: n, Similarity: sim, Source: source, Pinned: pinned}
	}

	// Discourse windows only relate speakers, so vector and alias hits
	// would only bloat the prompt.
	if w.Kind != common.WindowDiscourse {
		emb, err := util.RetryWithPolicy(ctx, r.aiRetry, func(ctx context.Context) ([]float32, error) {
			return r.embedder.GenerateEmbedding(ctx, []byte(windowContent(w)), ai.EmbeddingModeQuery)
		})
		if err != nil {
			return nil, providerErr("embed window", err)
		}
		hits, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.ScoredNode, error) {
			return r.store.SimilarNodes(ctx, emb, r.topK)
		})
		if err != nil {
			return nil, storeErr("similar nodes", err)
		}
		for _, h := range hits {
			add(h.Node, h.Score, CandidateVector, false)
		}

		if phrases := ExtractPhrases(w); len(phrases) > 0 {
			nodes, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.Node, error) {
				return r.store.NodesByAlias(ctx, phrases, aliasLookupLimitPerQuery)
			})
			if err != nil {
				return nil, storeErr("alias lookup", err)
			}
			for _, n := range nodes {
				add(n, 1, CandidateAlias, true)
			}
		}
	}

	speakerIDs := make([]string, len(w.SpeakerIDs))
	for i, sid := range w.SpeakerIDs {
		speakerIDs[i] = common.SpeakerNodeID(sid)
	}
	speakers, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.Node, error) {
		return r.store.GetNodes(ctx, speakerIDs)
	})
	if err != nil {
		return nil, storeErr("speaker nodes", err)
	}
	for _, n := range speakers {
		add(n, 1, CandidateSpeaker, true)
	}

	if w.Kind != common.WindowDiscourse && w.VideoID != "" {
		seeds, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.Node, error) {
			return r.store.SittingSeedNodes(ctx, w.VideoID)
		})
		if err != nil {
			return nil, storeErr("sitting seeds", err)
		}
		for _, n := range seeds {
			add(n, 1, CandidateSeed, true)
		}
	}

	out := make([]Candidate, 0, len(byID))
	for _, c := range byID {
		c.Node.Embedding = nil
		out = append(out, *c)
	}
	SortCandidates(out)
	if len(out) > r.maxCandidates {
		out = out[:r.maxCandidates]
	}
	return out, nil
}

// SortCandidates orders pinned candidates first, then by similarity
// descending, then by id, so truncation drops the least similar first.
func SortCandidates(cs []Candidate) {
	slices.SortFunc(cs, func(a, b Candidate) int {
		if a.Pinned != b.Pinned {
			if a.Pinned {
				return -1
			}
			return 1
		}
		return cmp.Or(cmp.Compare(b.Similarity, a.Similarity), cmp.Compare(a.Node.ID, b.Node.ID))
	})
}

// FormatKnownNodes renders candidates as the markdown table the prompts
// expect. Rows are added in order until the token budget is used up; the
// candidates that made it into the table are returned with it.
func FormatKnownNodes(cs []Candidate, tokenBudget int) (string, []Candidate) {
	var b strings.Builder
	b.WriteString("| ID | Type | Label | Aliases |\n|---|---|---|---|")
	used := ai.CountTokens(b.String())

	kept := make([]Candidate, 0, len(cs))
	for _, c := range cs {
		aliases := c.Node.Aliases
		if len(aliases) > maxKnownAliasesPerRow {
			aliases = aliases[:maxKnownAliasesPerRow]
		}
		row := fmt.Sprintf("\n| %s | %s | %s | %s |", c.Node.ID, c.Node.Type, tableCell(c.Node.Label), tableCell(strings.Join(aliases, ", ")))
		cost := ai.CountTokens(row)
		if tokenBudget > 0 && used+cost > tokenBudget {
			break
		}
		used += cost
		b.WriteString(row)
		kept = append(kept, c)
	}
	return b.String(), kept
}

func tableCell(s string) string {
	return strings.NewReplacer("|", "/", "\n", " ").Replace(s)
}

// windowContent is the spoken text of a window without the citation
// headers, which would only add noise to the embedding.
func windowContent(w common.Window) string {
	parts := make([]string, 0, len(w.Utterances))
	for _, u := range w.Utterances {
		parts = append(parts, strings.TrimSpace(u.Text))
	}
	return strings.Join(parts, "\n")
}

var (
	billLikeRe  = regexp.MustCompile(`((?:[\p{L}\p{N}'’-]+\s+){1,5}(?:Bill|Act))\b`)
	connectives = map[string]struct{}{"of": {}, "the": {}, "and": {}, "for": {}, "on": {}, "in": {}, "to": {}}
)

// ExtractPhrases returns normalized candidate alias keys found in the
// window: runs of capitalized words, acronyms and phrases ending in "Bill"
// or "Act", each at most six words long.
func ExtractPhrases(w common.Window) []string {
	seen := map[string]struct{}{}
	var out []string
	push := func(words []string) {
		if len(words) > maxPhraseWords {
			words = words[len(words)-maxPhraseWords:]
		}
		norm := NormalizeLabel(strings.Join(words, " "))
		if norm == "" {
			return
		}
		if _, ok := seen[norm]; ok {
			return
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
		if rest, ok := strings.CutPrefix(norm, "the "); ok && rest != "" {
			if _, dup := seen[rest]; !dup {
				seen[rest] = struct{}{}
				out = append(out, rest)
			}
		}
	}

	for _, u := range w.Utterances {
		for _, m := range billLikeRe.FindAllStringSubmatch(u.Text, -1) {
			push(strings.Fields(m[1]))
		}
		for _, run := range capitalizedRuns(u.Text) {
			if len(run) >= 2 || isAcronym(run[0]) {
				push(run)
			}
		}
	}
	return out
}

func capitalizedRuns(text string) [][]string {
	var runs [][]string
	var cur []string
	var pending []string
	flush := func() {
		if len(cur) > 0 {
			runs = append(runs, cur)
		}
		cur, pending = nil, nil
	}
	for _, raw := range strings.Fields(text) {
		word := strings.TrimFunc(raw, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if word == "" {
			flush()
			continue
		}
		first, _ := firstRune(word)
		switch {
		case unicode.IsUpper(first):
			cur = append(cur, pending...)
			pending = nil
			cur = append(cur, word)
		case len(cur) > 0 && isConnective(word):
			pending = append(pending, word)
		default:
			flush()
		}
		if strings.ContainsAny(raw[len(raw)-1:], ".,;:!?") {
			flush()
		}
	}
	flush()
	return runs
}

func isConnective(w string) bool {
	_, ok := connectives[strings.ToLower(w)]
	return ok
}

func isAcronym(w string) bool {
	if len(w) < 2 {
		return false
	}
	for _, r := range w {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}
