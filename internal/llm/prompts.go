package llm

import (
	"fmt"
	"strings"

	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// Prompts follow a strict JSON-only template: explicit structure, an exact
// example, and a closing skeleton. Smaller local models drift into prose
// without this level of ceremony.

// FactExtractionPrompt builds the prompt that turns a conversation into
// atomic candidate facts. Optional caller instructions are appended to the
// extraction rules.
func FactExtractionPrompt(messages []types.Message, instructions string) string {
	var conversation strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&conversation, "%s: %s\n", m.Role, m.Content)
	}

	extra := ""
	if strings.TrimSpace(instructions) != "" {
		extra = "\nADDITIONAL INSTRUCTIONS:\n" + strings.TrimSpace(instructions) + "\n"
	}

	return fmt.Sprintf(`TASK: Extract atomic, self-contained facts about the user from the conversation.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanation.

RULES:
1. Each fact is one standalone statement that makes sense without the conversation.
2. memory_type is EXACTLY one of: fact | preference | episode
   - fact: a durable statement about the user or their world
   - preference: something the user likes, dislikes or chooses
   - episode: a dated or datable event
3. category is a short lowercase topic label (e.g. "work", "food", "health").
4. event_date is ISO 8601 (YYYY-MM-DD) and ONLY present for episodes with a known date.
5. Skip greetings, questions and assistant output. Extract from user statements only.
6. If there is nothing to extract, return {"facts":[]}.
%s
Example structure (EXACT FORMAT REQUIRED):
{
  "facts": [
    {"memory":"Works as a TypeScript developer","category":"work","memory_type":"fact"},
    {"memory":"Prefers dark roast coffee","category":"food","memory_type":"preference"},
    {"memory":"Visited Lisbon","category":"travel","memory_type":"episode","event_date":"2026-07-14"}
  ]
}

CONVERSATION:
%s
RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"facts":[{"memory":"...","category":"...","memory_type":"fact"}]}`, extra, conversation.String())
}

// ArbitrationCandidate is one existing memory offered to the arbitration
// prompt for comparison against the new text.
type ArbitrationCandidate struct {
	ID   string
	Text string
}

// ArbitrationPrompt builds the dedup arbitration prompt: given a new fact
// and the closest existing memories, the model picks one action.
func ArbitrationPrompt(newText string, candidates []ArbitrationCandidate) string {
	var existing strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&existing, "- id: %s\n  text: %s\n", c.ID, c.Text)
	}

	return fmt.Sprintf(`TASK: Decide how a new memory relates to existing memories.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanation.

ACTIONS (EXACTLY one):
- add: the new memory is genuinely new information
- update: the new memory contradicts or supersedes one existing memory (set target_id)
- skip: the new memory duplicates one existing memory with no new information (set target_id)
- extend: the new memory adds detail to one existing memory (set target_id)

RULES:
1. target_id MUST be one of the listed ids for update/skip/extend, and empty for add.
2. reason is one short sentence.
3. Prefer update over add when the new memory and an existing one cannot both be true.

NEW MEMORY:
%s

EXISTING MEMORIES:
%s
RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"action":"add","target_id":"","reason":"..."}`, newText, existing.String())
}

// QueryRewritePrompt builds the prompt that expands a terse search query
// into a fuller one before embedding.
func QueryRewritePrompt(query string) string {
	return fmt.Sprintf(`TASK: Expand a short memory-search query into a fuller search phrase.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanation.

RULES:
1. Keep the original intent. Add likely synonyms or implied context.
2. One phrase, under 20 words.
3. If the query is already clear, return it unchanged.

QUERY:
%s

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"query":"..."}`, query)
}
