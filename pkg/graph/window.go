package graph

import (
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/hansard-kg/engine/pkg/common"
)

const (
	DefaultWindowSize         = 10
	DefaultStride             = 6
	DefaultContextSize        = 3
	DefaultMinUtteranceLength = 15
)

// FilterShortUtterances drops utterances whose trimmed text is shorter than
// minLen characters. It runs on the whole stream, before windowing.
func FilterShortUtterances(utterances []common.Utterance, minLen int) []common.Utterance {
	out := make([]common.Utterance, 0, len(utterances))
	for _, u := range utterances {
		if utf8.RuneCountInString(strings.TrimSpace(u.Text)) >= minLen {
			out = append(out, u)
		}
	}
	return out
}

// ConceptWindows yields windows of size utterances starting every stride
// utterances. The last window may be shorter than size.
func ConceptWindows(utterances []common.Utterance, size, stride int) iter.Seq[common.Window] {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if stride <= 0 {
		stride = DefaultStride
	}
	return func(yield func(common.Window) bool) {
		idx := 0
		for start := 0; start < len(utterances); start += stride {
			end := min(start+size, len(utterances))
			if !yield(newWindow(idx, common.WindowConcept, utterances[start:end])) {
				return
			}
			idx++
		}
	}
}

// DiscourseWindows yields one window per speaker change. Each holds up to k
// utterances from the end of the outgoing turn and up to k from the start
// of the incoming turn.
func DiscourseWindows(utterances []common.Utterance, k int) iter.Seq[common.Window] {
	if k <= 0 {
		k = DefaultContextSize
	}
	return func(yield func(common.Window) bool) {
		idx := 0
		for i := 1; i < len(utterances); i++ {
			prev, cur := utterances[i-1].SpeakerID, utterances[i].SpeakerID
			if prev == cur {
				continue
			}

			start := i
			for start > 0 && i-start < k && utterances[start-1].SpeakerID == prev {
				start--
			}
			end := i
			for end < len(utterances) && end-i < k && utterances[end].SpeakerID == cur {
				end++
			}

			if !yield(newWindow(idx, common.WindowDiscourse, utterances[start:end])) {
				return
			}
			idx++
		}
	}
}

// FormatWindowLine renders one utterance the way the extractor cites it.
func FormatWindowLine(u common.Utterance) string {
	return fmt.Sprintf("[utterance_id=%s t=%s speaker_id=%s] %s", u.ID, u.Timestamp, u.SpeakerID, u.Text)
}

func newWindow(idx int, kind common.WindowKind, utterances []common.Utterance) common.Window {
	w := common.Window{
		Index:        idx,
		Kind:         kind,
		Utterances:   utterances,
		UtteranceIDs: make([]string, 0, len(utterances)),
	}
	if len(utterances) == 0 {
		return w
	}
	w.VideoID = utterances[0].VideoID

	lines := make([]string, 0, len(utterances))
	seen := map[string]struct{}{}
	earliest := utterances[0]
	for _, u := range utterances {
		lines = append(lines, FormatWindowLine(u))
		w.UtteranceIDs = append(w.UtteranceIDs, u.ID)
		if _, ok := seen[u.SpeakerID]; !ok && u.SpeakerID != "" {
			seen[u.SpeakerID] = struct{}{}
			w.SpeakerIDs = append(w.SpeakerIDs, u.SpeakerID)
		}
		if u.Seconds < earliest.Seconds {
			earliest = u
		}
	}
	w.Text = strings.Join(lines, "\n")
	w.EarliestSeconds = earliest.Seconds
	w.EarliestTimestamp = earliest.Timestamp
	return w
}
