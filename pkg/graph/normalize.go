package graph

import (
	"strings"
	"unicode/utf8"

	"github.com/hansard-kg/engine/pkg/common"
)

const (
	evidenceMinSnippet = 60
	evidenceMaxSnippet = 220
	evidenceSlack      = 40
)

// normalizeDraft fixes the deterministic mistakes models make before the
// answer is validated: bare-second utterance ids, slightly paraphrased
// evidence and "s_X" speaker refs.
func normalizeDraft(d *Draft, w common.Window) {
	for i := range d.NodesNew {
		d.NodesNew[i].TempID = strings.TrimSpace(d.NodesNew[i].TempID)
		d.NodesNew[i].Type = strings.TrimSpace(d.NodesNew[i].Type)
	}
	for i := range d.Edges {
		normalizeEdge(&d.Edges[i], w)
	}
}

func normalizeEdge(e *DraftEdge, w common.Window) {
	e.SourceRef = normalizeRef(e.SourceRef)
	e.TargetRef = normalizeRef(e.TargetRef)
	e.Predicate = strings.TrimSpace(e.Predicate)
	e.UtteranceIDs = normalizeUtteranceIDs(e.UtteranceIDs, w.VideoID)
	e.Evidence = realignEvidence(e.Evidence, e.UtteranceIDs, w)
}

func normalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "s_") {
		return common.SpeakerNodeID(ref)
	}
	return ref
}

// normalizeUtteranceIDs expands bare seconds such as "1851" to
// "{video}:1851".
func normalizeUtteranceIDs(ids FlexStrings, videoID string) FlexStrings {
	if len(ids) == 0 {
		return ids
	}
	out := make(FlexStrings, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if isDigits(id) && videoID != "" {
			id = videoID + ":" + id
		}
		out = append(out, id)
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// realignEvidence replaces evidence that is not a quote of the window's
// spoken text with a snippet of the first cited utterance. The snippet starts at the
// longest 6, 5, 4 or 3 word run of the evidence found in the utterance, or
// at its beginning.
func realignEvidence(evidence string, utteranceIDs FlexStrings, w common.Window) string {
	if len(w.Utterances) == 0 || spokenIn(w, evidence) {
		return evidence
	}
	if len(utteranceIDs) == 0 {
		return evidence
	}
	u, ok := w.Utterance(utteranceIDs[0])
	if !ok || u.Text == "" {
		return evidence
	}
	content := u.Text

	words := strings.Fields(evidence)
	start := -1
	for _, n := range []int{6, 5, 4, 3} {
		if len(words) < n {
			continue
		}
		for i := 0; i+n <= len(words); i++ {
			if pos := strings.Index(content, strings.Join(words[i:i+n], " ")); pos >= 0 {
				start = pos
				break
			}
		}
		if start >= 0 {
			break
		}
	}
	if start < 0 {
		start = 0
	}

	maxLen := min(evidenceMaxSnippet, max(evidenceMinSnippet, len(evidence)+evidenceSlack))
	end := min(start+maxLen, len(content))
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end--
	}
	snippet := strings.TrimRight(content[start:end], " \t\r\n")
	if snippet == "" {
		return evidence
	}
	return snippet
}
