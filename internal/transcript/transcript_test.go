package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

const (
	lineUserPrompt = `{"type":"user","message":{"role":"user","content":"fix the tests"}}`
	lineAssistWork = `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Looking into it."},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"go test"}}]}}`
	lineToolResult = `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"FAIL"}]}}`
	lineAssistEdit = `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t2","name":"Edit","input":{}}]}}`
	lineAssistDone = `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Fixed. All tests pass."}]}}`
)

func TestLastAssistantText(t *testing.T) {
	path := writeTranscript(t,
		lineUserPrompt,
		lineAssistWork,
		lineToolResult,
		lineAssistDone,
	)

	text, err := LastAssistantText(path)
	if err != nil {
		t.Fatalf("LastAssistantText: %v", err)
	}
	if text != "Fixed. All tests pass." {
		t.Errorf("text = %q", text)
	}
}

func TestLastAssistantText_SkipsToolOnlyLines(t *testing.T) {
	path := writeTranscript(t,
		lineUserPrompt,
		lineAssistDone,
		lineAssistEdit,
	)

	text, err := LastAssistantText(path)
	if err != nil {
		t.Fatalf("LastAssistantText: %v", err)
	}
	if text != "Fixed. All tests pass." {
		t.Errorf("text = %q, want the last line carrying text", text)
	}
}

func TestLastAssistantText_Empty(t *testing.T) {
	path := writeTranscript(t, lineUserPrompt)

	text, err := LastAssistantText(path)
	if err != nil {
		t.Fatalf("LastAssistantText: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestLastAssistantText_MissingFile(t *testing.T) {
	if _, err := LastAssistantText(filepath.Join(t.TempDir(), "absent.jsonl")); err == nil {
		t.Error("expected error for missing transcript")
	}
}

func TestLastTurn(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"earlier prompt"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t0","name":"Read","input":{}}]}}`,
		lineUserPrompt,
		lineAssistWork,
		lineToolResult,
		lineAssistEdit,
		lineAssistDone,
	)

	turn, err := LastTurn(path)
	if err != nil {
		t.Fatalf("LastTurn: %v", err)
	}
	if turn.UserText != "fix the tests" {
		t.Errorf("UserText = %q", turn.UserText)
	}
	if len(turn.ToolUses) != 2 || turn.ToolUses[0] != "Bash" || turn.ToolUses[1] != "Edit" {
		t.Errorf("ToolUses = %v, want [Bash Edit]", turn.ToolUses)
	}
	if turn.FinalText != "Fixed. All tests pass." {
		t.Errorf("FinalText = %q", turn.FinalText)
	}
}

func TestLastTurn_ToolResultIsNotAPrompt(t *testing.T) {
	path := writeTranscript(t,
		lineUserPrompt,
		lineAssistWork,
		lineToolResult,
		lineAssistDone,
	)

	turn, err := LastTurn(path)
	if err != nil {
		t.Fatalf("LastTurn: %v", err)
	}
	if turn.UserText != "fix the tests" {
		t.Errorf("UserText = %q, want the typed prompt, not the tool result", turn.UserText)
	}
	if len(turn.ToolUses) != 1 || turn.ToolUses[0] != "Bash" {
		t.Errorf("ToolUses = %v, want [Bash]", turn.ToolUses)
	}
}

func TestReadEntries_SkipsGarbage(t *testing.T) {
	path := writeTranscript(t,
		`not json at all`,
		`{"type":"summary","summary":"compact"}`,
		lineUserPrompt,
		lineAssistDone,
	)

	turn, err := LastTurn(path)
	if err != nil {
		t.Fatalf("LastTurn: %v", err)
	}
	if turn.FinalText != "Fixed. All tests pass." {
		t.Errorf("FinalText = %q", turn.FinalText)
	}
}
