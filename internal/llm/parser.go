package llm

import (
	"encoding/json"
	"strings"

	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// Model responses are parsed tolerantly: direct parse first, then with
// markdown fences stripped, then the first balanced JSON payload extracted
// from surrounding prose. Parsing never fails an operation; callers get an
// empty result or a documented fallback instead.

// factResponse mirrors the JSON shape the extraction prompt requests.
type factResponse struct {
	Facts []struct {
		Memory     string `json:"memory"`
		Category   string `json:"category"`
		MemoryType string `json:"memory_type"`
		EventDate  string `json:"event_date,omitempty"`
	} `json:"facts"`
}

// decisionResponse mirrors the JSON shape the arbitration prompt requests.
type decisionResponse struct {
	Action   string `json:"action"`
	TargetID string `json:"target_id"`
	Reason   string `json:"reason"`
}

// rewriteResponse mirrors the JSON shape the query rewrite prompt requests.
type rewriteResponse struct {
	Query string `json:"query"`
}

// ParseFacts parses an extraction response into candidate facts. Malformed
// output yields no facts, never an error.
func ParseFacts(raw string) []types.ExtractedFact {
	var resp factResponse
	if !tolerantUnmarshal(raw, &resp) {
		return nil
	}

	var facts []types.ExtractedFact
	for _, f := range resp.Facts {
		memory := strings.TrimSpace(f.Memory)
		if memory == "" {
			continue
		}
		memoryType := f.MemoryType
		if !types.IsValidMemoryType(memoryType) {
			memoryType = types.MemoryTypeFact
		}
		facts = append(facts, types.ExtractedFact{
			Memory:     memory,
			Category:   strings.TrimSpace(f.Category),
			MemoryType: memoryType,
			EventDate:  strings.TrimSpace(f.EventDate),
		})
	}
	return facts
}

// ParseDecision parses an arbitration response. Unparseable output or an
// invalid action falls back to an add decision, never an error.
func ParseDecision(raw string) types.DedupDecision {
	fallback := types.DedupDecision{
		Action: types.DedupAdd,
		Reason: "failed to parse decision",
	}

	var resp decisionResponse
	if !tolerantUnmarshal(raw, &resp) {
		return fallback
	}

	decision := types.DedupDecision{
		Action:   strings.ToLower(strings.TrimSpace(resp.Action)),
		TargetID: strings.TrimSpace(resp.TargetID),
		Reason:   strings.TrimSpace(resp.Reason),
	}
	if err := decision.Validate(); err != nil {
		return fallback
	}
	return decision
}

// ParseRewrite parses a query rewrite response. Malformed output or an empty
// rewritten query yields "", which callers treat as "keep the raw query".
func ParseRewrite(raw string) string {
	var resp rewriteResponse
	if !tolerantUnmarshal(raw, &resp) {
		return ""
	}
	return strings.TrimSpace(resp.Query)
}

// tolerantUnmarshal tries direct parse, fence-stripped parse, then balanced
// payload extraction. Reports whether any attempt produced valid JSON.
func tolerantUnmarshal(raw string, v interface{}) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if json.Unmarshal([]byte(raw), v) == nil {
		return true
	}

	stripped := stripFences(raw)
	if stripped != raw && json.Unmarshal([]byte(stripped), v) == nil {
		return true
	}

	if payload := extractJSONPayload(stripped); payload != "" {
		return json.Unmarshal([]byte(payload), v) == nil
	}
	return false
}

// stripFences removes markdown code fences a model may wrap its JSON in.
func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// extractJSONPayload returns the first balanced JSON object or array in the
// text, skipping any reasoning preamble the model added despite instructions.
func extractJSONPayload(text string) string {
	objStart := strings.IndexByte(text, '{')
	arrStart := strings.IndexByte(text, '[')

	start := objStart
	open, close := byte('{'), byte('}')
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start = arrStart
		open, close = '[', ']'
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		switch {
		case c == '\\':
			escape = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
