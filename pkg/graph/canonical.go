package graph

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/hansard-kg/engine/pkg/common"
)

const (
	NodeIDPrefix = "kg_"
	EdgeIDPrefix = "kge_"
	idHashLength = 12
)

var (
	punctRe      = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeLabel lowercases s, turns punctuation into spaces and collapses
// whitespace. It is the key for node ids and aliases.
func NormalizeLabel(s string) string {
	s = strings.ToLower(s)
	s = punctRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NodeID derives the canonical id of an extracted node.
func NodeID(nodeType common.NodeType, label string) string {
	return NodeIDPrefix + md5Hex(string(nodeType)+":"+NormalizeLabel(label))[:idHashLength]
}

// EdgeID derives the canonical id of an edge from its triple, sitting,
// timestamp and evidence.
func EdgeID(sourceID string, predicate common.Predicate, targetID, videoID string, earliestSeconds int, evidence string) string {
	key := fmt.Sprintf("%s|%s|%s|%s|%d|%s", sourceID, predicate, targetID, videoID, earliestSeconds, md5Hex(evidence))
	return EdgeIDPrefix + md5Hex(key)[:idHashLength]
}

// SpeakerNode builds the node for a speaker. Missing speaker metadata falls
// back to the raw id.
func SpeakerNode(sid string, sp *common.Speaker) (common.Node, []common.Alias) {
	n := common.Node{
		ID:    common.SpeakerNodeID(sid),
		Type:  common.TypePerson,
		Label: sid,
	}
	var raws []string
	if sp != nil {
		switch {
		case strings.TrimSpace(sp.FullName) != "":
			n.Label = strings.TrimSpace(sp.FullName)
		case strings.TrimSpace(sp.NormalizedName) != "":
			n.Label = strings.TrimSpace(sp.NormalizedName)
		}
		raws = append(raws, sp.FullName, sp.NormalizedName, sp.Title)
	}
	raws = append(raws, sid)

	aliases := make([]common.Alias, 0, len(raws))
	seen := map[string]struct{}{}
	for _, raw := range raws {
		norm := NormalizeLabel(raw)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		n.Aliases = append(n.Aliases, norm)
		aliases = append(aliases, common.Alias{
			Norm:   norm,
			Raw:    strings.TrimSpace(raw),
			NodeID: n.ID,
			Type:   common.TypePerson,
			Source: common.AliasSeed,
		})
	}
	return n, aliases
}

// normalizeConfidence maps a missing confidence to 0.5 and clamps the rest
// to [0,1]. An explicit 0 is kept.
func normalizeConfidence(c *float64) float64 {
	if c == nil {
		return 0.5
	}
	return min(max(*c, 0), 1)
}
