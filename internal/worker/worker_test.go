package worker

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExtractMarkerJSON(t *testing.T) {
	output := "some prose\nBEGIN_JSON\n{\"status\":\"ok\"}\nEND_JSON\nmore prose"
	got, err := ExtractMarkerJSON(output)
	if err != nil {
		t.Fatalf("ExtractMarkerJSON: %v", err)
	}
	if got != `{"status":"ok"}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractMarkerJSONMissingMarkers(t *testing.T) {
	if _, err := ExtractMarkerJSON("no markers here"); err == nil {
		t.Fatal("expected error for missing BEGIN_JSON")
	}
	if _, err := ExtractMarkerJSON("BEGIN_JSON\n{}"); err == nil {
		t.Fatal("expected error for missing END_JSON")
	}
}

func TestValidateAgainstSchemaImplementerOutput(t *testing.T) {
	raw := `{"status":"ok","handoff_memo":"did the thing"}`
	doc, err := ValidateAgainstSchema(SchemaImplement, raw)
	if err != nil {
		t.Fatalf("ValidateAgainstSchema: %v", err)
	}
	m, ok := doc.(map[string]interface{})
	if !ok || m["status"] != "ok" {
		t.Errorf("unexpected decoded doc: %#v", doc)
	}
}

func TestValidateAgainstSchemaRejectsMissingRequired(t *testing.T) {
	raw := `{"status":"ok"}`
	if _, err := ValidateAgainstSchema(SchemaImplement, raw); err == nil {
		t.Fatal("expected validation error for missing handoff_memo")
	}
}

func TestValidateAgainstSchemaRejectsBadEnum(t *testing.T) {
	raw := `{"status":"approve","changes":[]}`
	if _, err := ValidateAgainstSchema(SchemaReview, raw); err != nil {
		t.Fatalf("expected approve to be valid, got %v", err)
	}
	raw = `{"status":"maybe","changes":[]}`
	if _, err := ValidateAgainstSchema(SchemaReview, raw); err == nil {
		t.Fatal("expected validation error for unknown status enum value")
	}
}

func TestParseMarkerJSONPlanOutput(t *testing.T) {
	output := `BEGIN_JSON
{"milestones":[{"goal":"add feature","done_checks":["tests pass"],"risk_level":"low"}]}
END_JSON`
	doc, err := ParseMarkerJSON(SchemaPlan, output)
	if err != nil {
		t.Fatalf("ParseMarkerJSON: %v", err)
	}
	if doc == nil {
		t.Fatal("expected non-nil doc")
	}
}

func TestSelectEventStreamTextPrefersFinalMessage(t *testing.T) {
	jsonl := `{"type":"partial_delta","text":"ignored chunk"}
{"type":"message_final","text":"the real answer"}
{"type":"response_completed","text":"also ignored"}`
	got, err := SelectEventStreamText(jsonl)
	if err != nil {
		t.Fatalf("SelectEventStreamText: %v", err)
	}
	if got != "the real answer" {
		t.Errorf("got %q", got)
	}
}

func TestSelectEventStreamTextFallsBackToDirectContent(t *testing.T) {
	jsonl := `{"type":"chunk","content":"hello "}
{"type":"chunk","content":"world"}`
	got, err := SelectEventStreamText(jsonl)
	if err != nil {
		t.Fatalf("SelectEventStreamText: %v", err)
	}
	if got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestSelectEventStreamTextErrorsOnNoContent(t *testing.T) {
	if _, err := SelectEventStreamText(`{"type":"noop"}`); err == nil {
		t.Fatal("expected error for empty event stream")
	}
}

func TestInvokeCapturesOutputViaPTY(t *testing.T) {
	inv, err := Invoke(context.Background(), "implementer", Config{
		Bin:  "/bin/echo",
		Args: []string{"hello from worker"},
	}, "")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(inv.RawOutput, "hello from worker") {
		t.Errorf("RawOutput = %q, want it to contain greeting", inv.RawOutput)
	}
	if inv.ExitError != nil {
		t.Errorf("unexpected ExitError: %v", inv.ExitError)
	}
}

func TestInvokeRespectsTotalTimeout(t *testing.T) {
	inv, err := Invoke(context.Background(), "implementer", Config{
		Bin:          "/bin/sleep",
		Args:         []string{"5"},
		TotalTimeout: 50 * time.Millisecond,
	}, "")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !inv.TimedOut {
		t.Error("expected TimedOut to be true")
	}
}
