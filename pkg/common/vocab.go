package common

import "strings"

// NodeType is the closed set of entity types.
type NodeType string

const (
	TypePerson       NodeType = "foaf:Person"
	TypeOrganization NodeType = "schema:Organization"
	TypeLegislation  NodeType = "schema:Legislation"
	TypePlace        NodeType = "schema:Place"
	TypeConcept      NodeType = "skos:Concept"
)

// NodeTypes lists every allowed node type.
var NodeTypes = []NodeType{TypePerson, TypeOrganization, TypeLegislation, TypePlace, TypeConcept}

func (t NodeType) Valid() bool {
	for _, v := range NodeTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Predicate is an edge label.
type Predicate string

const (
	PredAmends           Predicate = "AMENDS"
	PredGoverns          Predicate = "GOVERNS"
	PredModernizes       Predicate = "MODERNIZES"
	PredAimsToReduce     Predicate = "AIMS_TO_REDUCE"
	PredRequiresApproval Predicate = "REQUIRES_APPROVAL"
	PredImplementedBy    Predicate = "IMPLEMENTED_BY"
	PredResponsibleFor   Predicate = "RESPONSIBLE_FOR"
	PredAssociatedWith   Predicate = "ASSOCIATED_WITH"
	PredCauses           Predicate = "CAUSES"
	PredAddresses        Predicate = "ADDRESSES"
	PredProposes         Predicate = "PROPOSES"

	PredRespondsTo    Predicate = "RESPONDS_TO"
	PredAgreesWith    Predicate = "AGREES_WITH"
	PredDisagreesWith Predicate = "DISAGREES_WITH"
	PredQuestions     Predicate = "QUESTIONS"
)

// ConceptPredicates are allowed in concept windows.
var ConceptPredicates = []Predicate{
	PredAmends, PredGoverns, PredModernizes, PredAimsToReduce, PredRequiresApproval,
	PredImplementedBy, PredResponsibleFor, PredAssociatedWith, PredCauses,
	PredAddresses, PredProposes,
}

// DiscoursePredicates are allowed in discourse windows.
var DiscoursePredicates = []Predicate{PredRespondsTo, PredAgreesWith, PredDisagreesWith, PredQuestions}

// PredicatesFor returns the allowlist for a window kind.
func PredicatesFor(kind WindowKind) []Predicate {
	if kind == WindowDiscourse {
		return DiscoursePredicates
	}
	return ConceptPredicates
}

// NormalizePredicate upper-cases p and maps spaces and dashes to underscores.
func NormalizePredicate(p string) Predicate {
	p = strings.ToUpper(strings.TrimSpace(p))
	p = strings.NewReplacer(" ", "_", "-", "_").Replace(p)
	return Predicate(p)
}

// AllowedFor reports whether p is in the allowlist for kind.
func (p Predicate) AllowedFor(kind WindowKind) bool {
	for _, v := range PredicatesFor(kind) {
		if v == p {
			return true
		}
	}
	return false
}

// JoinPredicates renders an allowlist for a prompt.
func JoinPredicates(ps []Predicate) string {
	s := make([]string, len(ps))
	for i, p := range ps {
		s[i] = string(p)
	}
	return strings.Join(s, ", ")
}

// JoinNodeTypes renders the node types for a prompt.
func JoinNodeTypes(ts []NodeType) string {
	s := make([]string, len(ts))
	for i, t := range ts {
		s[i] = string(t)
	}
	return strings.Join(s, ", ")
}

// SpeakerNodePrefix prefixes speaker node ids.
const SpeakerNodePrefix = "speaker_"

// SpeakerNodeID returns the node id for a speaker.
func SpeakerNodeID(speakerID string) string {
	return SpeakerNodePrefix + speakerID
}
