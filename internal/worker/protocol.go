package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	beginMarker = "BEGIN_JSON"
	endMarker   = "END_JSON"
)

// ExtractMarkerJSON finds the content between a BEGIN_JSON line and a
// later END_JSON line and returns it for JSON parsing (spec.md §6.3).
func ExtractMarkerJSON(output string) (string, error) {
	beginIdx := strings.Index(output, beginMarker)
	if beginIdx < 0 {
		return "", fmt.Errorf("no %s marker found in worker output", beginMarker)
	}
	rest := output[beginIdx+len(beginMarker):]
	endIdx := strings.Index(rest, endMarker)
	if endIdx < 0 {
		return "", fmt.Errorf("no %s marker found after %s", endMarker, beginMarker)
	}
	return strings.TrimSpace(rest[:endIdx]), nil
}

// Schema identifies one of the three per-phase output schemas.
type Schema string

const (
	SchemaPlan        Schema = "planOutput"
	SchemaImplement    Schema = "implementerOutput"
	SchemaReview       Schema = "reviewOutput"
)

// schemaDocs are the JSON Schema documents for each worker phase
// output, matching spec.md §6.3's field list exactly.
var schemaDocs = map[Schema]string{
	SchemaPlan: `{
		"type": "object",
		"required": ["milestones"],
		"properties": {
			"milestones": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["goal", "done_checks", "risk_level"],
					"properties": {
						"goal": {"type": "string"},
						"files_expected": {"type": "array", "items": {"type": "string"}},
						"done_checks": {"type": "array", "items": {"type": "string"}},
						"risk_level": {"enum": ["low", "medium", "high"]}
					}
				}
			}
		}
	}`,
	SchemaImplement: `{
		"type": "object",
		"required": ["status", "handoff_memo"],
		"properties": {
			"status": {"enum": ["ok", "blocked", "failed"]},
			"handoff_memo": {"type": "string"},
			"commands_run": {"type": "array", "items": {"type": "string"}},
			"observations": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	SchemaReview: `{
		"type": "object",
		"required": ["status", "changes"],
		"properties": {
			"status": {"enum": ["approve", "request_changes", "reject"]},
			"changes": {"type": "array", "items": {"type": "string"}}
		}
	}`,
}

var compiledSchemas = map[Schema]*jsonschema.Schema{}

func compileSchema(s Schema) (*jsonschema.Schema, error) {
	if cached, ok := compiledSchemas[s]; ok {
		return cached, nil
	}
	doc, ok := schemaDocs[s]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", s)
	}
	compiler := jsonschema.NewCompiler()
	url := "mem://" + string(s) + ".json"
	if err := compiler.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("loading schema %q: %w", s, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %q: %w", s, err)
	}
	compiledSchemas[s] = compiled
	return compiled, nil
}

// ValidateAgainstSchema parses raw as JSON and validates it against
// schema, returning the decoded value on success.
func ValidateAgainstSchema(schema Schema, raw string) (interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return nil, err
	}
	if err := compiled.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	return doc, nil
}

// ParseMarkerJSON extracts the marker block and validates it in one
// step, the common case for all three worker phases.
func ParseMarkerJSON(schema Schema, output string) (interface{}, error) {
	raw, err := ExtractMarkerJSON(output)
	if err != nil {
		return nil, err
	}
	return ValidateAgainstSchema(schema, raw)
}

// ResolveOutputText reduces a worker's raw invocation output to the
// text the marker-JSON parser should see, according to the role's
// configured output protocol (spec.md §4.2: text|json|jsonl). The
// jsonl protocol is an event-stream: it is reduced to its selected
// text before marker extraction runs. text/json (and any unset
// protocol, matching the teacher's always-one-shape output) pass the
// raw output through unchanged, since the marker delimiters are
// already in the worker's direct stdout.
func ResolveOutputText(outputProtocol, raw string) (string, error) {
	if outputProtocol != "jsonl" {
		return raw, nil
	}
	return SelectEventStreamText(raw)
}

// RetryDirective is appended to a worker's prompt after a parse
// failure, asking it to produce the marker block only (spec.md §4.2).
const RetryDirective = "\n\nYour previous response could not be parsed. Respond again with ONLY the " + beginMarker + " ... " + endMarker + " block and no other text."

// StreamEvent is one line of a line-delimited JSON event-stream
// worker's output (spec.md §4.2 "event-stream variant").
type StreamEvent struct {
	Type string                 `json:"type"`
	Raw  map[string]interface{} `json:"-"`
}

// SelectEventStreamText concatenates text from a line-delimited JSON
// event stream, choosing message-typed events in priority order:
// a final message, then any completed item with text, then
// response/turn-completion payloads, then direct content. Matches
// spec.md §4.2's priority-ordered selection for streaming worker
// protocols (e.g. OpenAI/Anthropic-style event logs).
func SelectEventStreamText(jsonl string) (string, error) {
	var final, completedItem, turnCompletion, direct []string

	for _, line := range strings.Split(strings.TrimSpace(jsonl), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev map[string]interface{}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return "", fmt.Errorf("parsing event-stream line: %w", err)
		}

		typ, _ := ev["type"].(string)
		text := extractText(ev)
		if text == "" {
			continue
		}

		switch {
		case strings.Contains(typ, "message") && strings.Contains(typ, "final"):
			final = append(final, text)
		case strings.Contains(typ, "completed"):
			completedItem = append(completedItem, text)
		case strings.Contains(typ, "response") || strings.Contains(typ, "turn"):
			turnCompletion = append(turnCompletion, text)
		default:
			direct = append(direct, text)
		}
	}

	for _, group := range [][]string{final, completedItem, turnCompletion, direct} {
		if len(group) > 0 {
			return strings.Join(group, ""), nil
		}
	}
	return "", fmt.Errorf("no text content found in event stream")
}

// extractText pulls a "text" or "content" string field out of an
// event payload, checking the common shapes worker SDKs use.
func extractText(ev map[string]interface{}) string {
	if t, ok := ev["text"].(string); ok {
		return t
	}
	if c, ok := ev["content"].(string); ok {
		return c
	}
	if item, ok := ev["item"].(map[string]interface{}); ok {
		if t, ok := item["text"].(string); ok {
			return t
		}
	}
	return ""
}
