package ai

// ExtractSystemPrompt is sent as the system message for every extraction pass.
const ExtractSystemPrompt = "You are extracting knowledge graph entities and relationships from parliamentary transcripts. Return JSON only. Do not include markdown."

const ExtractDraftPrompt = `
# Task Context
You are extracting knowledge graph entities and relationships from parliamentary transcripts.

# Transcript Window
%s

# Known Nodes (use these IDs when possible)
%s

# Rules
1. If a node matches a Known Node, you MUST use the existing id. Do not create a new node for it.
2. For new nodes, assign a temporary id like "n1", "n2", etc.
3. Predicate must be from this list: %s
4. Node type must be from this list: %s (use "skos:Concept" for abstract concepts)
5. Evidence must be a direct substring quote from the transcript window.
6. Utterance IDs must refer to the provided utterances. Copy the full value from "utterance_id=..." exactly; do NOT shorten to bare seconds.
7. Speakers are referenced as "speaker_<speaker_id>" using the speaker_id shown in the window.
8. Return valid JSON only. No markdown, no comments.

# Recall Objective
- Aim to extract about %d substantive edges if the window supports it.
- If you find fewer than %d edges, do a second sweep over the transcript window before answering.
- Expand enumerations: if the text mentions multiple concrete items, create separate nodes and edges for each.

# Predicate Guidance (choose the strongest applicable)
- Prefer CAUSES when explicit impact or causation is stated ("impacted", "because", "led to").
- Prefer PROPOSES or MODERNIZES for plans, upgrades, or intended changes.
- Prefer RESPONSIBLE_FOR or IMPLEMENTED_BY for responsibility and implementation statements.
- Use ASSOCIATED_WITH only when no stronger predicate fits.
- Avoid collapsing everything into ADDRESSES if a more specific predicate fits.

# Output Format
{
  "nodes_new": [
    {"temp_id": "n1", "type": "skos:Concept", "label": "...", "aliases": ["..."]}
  ],
  "edges": [
    {
      "source_ref": "speaker_s_...",
      "predicate": "PROPOSES",
      "target_ref": "n1",
      "evidence": "...",
      "utterance_ids": ["<video_id>:<seconds>"],
      "earliest_timestamp": "0:12:34",
      "confidence": 0.72
    }
  ]
}

Return JSON only.
`

const ExtractDiscoursePrompt = `
# Task Context
You are extracting how speakers respond to each other in a parliamentary debate.

# Transcript Window
%s

# Speakers Present
%s

# Rules
1. Only relate speakers to each other. Both source_ref and target_ref must be one of the speakers present, written as "speaker_<speaker_id>".
2. Predicate must be from this list: %s
3. Do NOT create new nodes. "nodes_new" must be an empty list.
4. Evidence must be a direct substring quote from the transcript window.
5. Utterance IDs must refer to the provided utterances. Copy the full value from "utterance_id=..." exactly.
6. If nobody responds to, agrees with, disagrees with, or questions another speaker, return no edges.
7. Return valid JSON only. No markdown, no comments.

# Output Format
{
  "nodes_new": [],
  "edges": [
    {
      "source_ref": "speaker_s_b",
      "predicate": "DISAGREES_WITH",
      "target_ref": "speaker_s_a",
      "evidence": "...",
      "utterance_ids": ["<video_id>:<seconds>"],
      "earliest_timestamp": "0:12:34",
      "confidence": 0.7
    }
  ]
}

Return JSON only.
`

const ExtractAdditionsPrompt = `
# Task Context
You are improving a knowledge graph extraction.

# Transcript Window
%s

# Known Nodes (use these IDs when possible)
%s

# Allowed Predicates
%s

# Allowed Node Types
%s

# Current Draft JSON
%s

# Task
1. Re-read the transcript window and look for substantive relationships that are CLEARLY supported but missing from the draft.
2. Be conservative: add edges only when the evidence is unambiguous.
3. Expand enumerations into multiple edges when the transcript lists multiple concrete items.
4. Add at most %d new edges.
5. Aim to move the draft toward about %d edges total if the window supports it.
6. Do not repeat or remove draft items. Return only what is missing.

# Strict Rules
- Evidence MUST be a direct substring quote from the transcript window.
- Utterance IDs MUST refer to the provided utterances. Copy the full value from "utterance_id=..." exactly; do NOT shorten to bare seconds.
- Predicate MUST be from Allowed Predicates.
- Node type MUST be from Allowed Node Types.
- Return JSON only.

# Output Format (deltas only)
{
  "nodes_new_add": [
    {"temp_id": "a1", "type": "skos:Concept", "label": "...", "aliases": ["..."]}
  ],
  "edges_add": [
    {
      "source_ref": "speaker_s_...",
      "predicate": "CAUSES",
      "target_ref": "a1",
      "evidence": "...",
      "utterance_ids": ["<video_id>:<seconds>"],
      "earliest_timestamp": "0:12:34",
      "confidence": 0.8
    }
  ]
}

Return the JSON now.
`

const ExtractRepairPrompt = `
# Task Context
You are a strict JSON editor for knowledge graph extraction.

# Transcript Window
%s

# Known Nodes (use these IDs when possible)
%s

# Allowed Predicates
%s

# Allowed Node Types
%s

# Draft JSON (from pass 1)
%s

# Validation Issues Detected
%s

# Instructions
1. Return valid JSON only. No markdown, no comments.
2. Evidence MUST be a direct substring quote from the transcript window.
3. Utterance IDs MUST refer to the provided utterances. Copy the full value from "utterance_id=..." exactly; do NOT shorten to bare seconds.
4. Predicate MUST be from Allowed Predicates.
5. Node type MUST be from Allowed Node Types.
6. Every source_ref and target_ref MUST be a Known Node id, a temp_id from nodes_new, or "speaker_<speaker_id>" for a speaker in the window.
7. You MUST produce a corrected KG JSON. Repair issues if possible, otherwise delete the invalid items.
8. You MAY add up to %d additional high-signal edges if they are fully supported and high-confidence.
9. Be conservative: do not add speculative edges; if unsure, omit.

# Output Format
{
  "nodes_new": [{"temp_id": "n1", "type": "skos:Concept", "label": "...", "aliases": ["..."]}],
  "edges": [{"source_ref": "...", "predicate": "...", "target_ref": "...", "evidence": "...", "utterance_ids": ["<video_id>:<seconds>"], "earliest_timestamp": "0:12:34", "confidence": 0.7}]
}

Return the corrected JSON now.
`
