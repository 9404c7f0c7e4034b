// Package transcript reads session transcript files: one JSON object
// per line, alternating user and assistant messages with tool activity
// in between.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// entry is one transcript line. Lines that fail to parse are skipped;
// the child owns the format and appends freely.
type entry struct {
	Type    string  `json:"type"`
	Message message `json:"message"`
}

type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// contentBlock is one element of a structured message body.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

// Turn is the final exchange of a session: the last user prompt, the
// tools the assistant ran after it, and its closing text.
type Turn struct {
	UserText  string
	ToolUses  []string
	FinalText string
}

// LastAssistantText returns the most recent assistant text in the
// transcript, or "" when the session has produced none yet.
func LastAssistantText(path string) (string, error) {
	entries, err := readEntries(path)
	if err != nil {
		return "", err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type != "assistant" {
			continue
		}
		if text := textOf(entries[i]); text != "" {
			return text, nil
		}
	}
	return "", nil
}

// LastTurn walks back to the last user prompt and collects everything
// the assistant did after it.
func LastTurn(path string) (*Turn, error) {
	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}

	turn := &Turn{}
	start := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if isUserPrompt(entries[i]) {
			start = i
			turn.UserText = userTextOf(entries[i])
			break
		}
	}

	for _, e := range entries[start:] {
		if e.Type != "assistant" {
			continue
		}
		turn.ToolUses = append(turn.ToolUses, toolNamesOf(e)...)
		if text := textOf(e); text != "" {
			turn.FinalText = text
		}
	}
	return turn, nil
}

func readEntries(path string) ([]entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	var entries []entry
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// isUserPrompt distinguishes a typed user message from the tool-result
// lines the child also records under the user role.
func isUserPrompt(e entry) bool {
	if e.Type != "user" {
		return false
	}
	if s := contentString(e); s != "" {
		return true
	}
	for _, b := range contentBlocks(e) {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			return true
		}
	}
	return false
}

func userTextOf(e entry) string {
	if s := contentString(e); s != "" {
		return s
	}
	return textOf(e)
}

// textOf joins the text blocks of a message.
func textOf(e entry) string {
	if s := contentString(e); s != "" {
		return s
	}
	var parts []string
	for _, b := range contentBlocks(e) {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func toolNamesOf(e entry) []string {
	var names []string
	for _, b := range contentBlocks(e) {
		if b.Type == "tool_use" && b.Name != "" {
			names = append(names, b.Name)
		}
	}
	return names
}

// contentString returns the message body when it is a bare string.
func contentString(e entry) string {
	var s string
	if err := json.Unmarshal(e.Message.Content, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// contentBlocks returns the message body when it is a block list.
func contentBlocks(e entry) []contentBlock {
	var blocks []contentBlock
	if err := json.Unmarshal(e.Message.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}
