package llm

import (
	"fmt"
	"strings"
)

// ExtractedEntity is one entity found in a fact's text.
type ExtractedEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExtractedRelation is one relationship between extracted entities.
type ExtractedRelation struct {
	From         string  `json:"from"`
	Relationship string  `json:"relationship"`
	To           string  `json:"to"`
	Confidence   float64 `json:"confidence"`
}

// GraphExtraction is the combined result of entity and relationship
// extraction over a single fact.
type GraphExtraction struct {
	Entities  []ExtractedEntity  `json:"entities"`
	Relations []ExtractedRelation `json:"relations"`
}

// graphEntityTypes are the only entity types the prompt permits. Anything
// else the model invents is dropped at parse time.
var graphEntityTypes = map[string]bool{
	"person":       true,
	"organization": true,
	"tool":         true,
	"project":      true,
	"location":     true,
	"concept":      true,
}

// GraphExtractionPrompt builds the prompt that mines one fact for entities
// and the relationships between them.
func GraphExtractionPrompt(content string) string {
	return fmt.Sprintf(`TASK: Extract entities and relationships from one fact.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanation.

ENTITY TYPES (ONLY these 6):
- person: Individual human
- organization: Company, institution or group
- tool: Software, library, framework, technology
- project: Named initiative or product
- location: Place, city, country or region
- concept: Idea, activity or topic

RULES:
1. Every relation's from and to MUST name listed entities.
2. relationship is a short lowercase verb phrase (e.g. "works_at", "uses", "lives_in").
3. confidence 0.0-1.0.
4. If nothing is extractable, return {"entities":[],"relations":[]}.

Example structure (EXACT FORMAT REQUIRED):
{
  "entities": [
    {"name":"Alex","type":"person"},
    {"name":"TypeScript","type":"tool"}
  ],
  "relations": [
    {"from":"Alex","relationship":"uses","to":"TypeScript","confidence":0.9}
  ]
}

FACT:
%s

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"entities":[{"name":"X","type":"person"}],"relations":[]}`, content)
}

// ParseGraphExtraction parses a graph extraction response. Invalid entries
// are dropped individually; malformed output yields an empty extraction,
// never an error.
func ParseGraphExtraction(raw string) GraphExtraction {
	var resp GraphExtraction
	if !tolerantUnmarshal(raw, &resp) {
		return GraphExtraction{}
	}

	out := GraphExtraction{}
	known := map[string]bool{}
	for _, e := range resp.Entities {
		name := strings.TrimSpace(e.Name)
		typ := strings.ToLower(strings.TrimSpace(e.Type))
		if name == "" || !graphEntityTypes[typ] {
			continue
		}
		out.Entities = append(out.Entities, ExtractedEntity{Name: name, Type: typ})
		known[name] = true
	}
	for _, r := range resp.Relations {
		from := strings.TrimSpace(r.From)
		to := strings.TrimSpace(r.To)
		rel := strings.TrimSpace(r.Relationship)
		if from == "" || to == "" || rel == "" || !known[from] || !known[to] {
			continue
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			continue
		}
		out.Relations = append(out.Relations, ExtractedRelation{
			From: from, Relationship: rel, To: to, Confidence: r.Confidence,
		})
	}
	return out
}
