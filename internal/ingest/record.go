package ingest

import (
	"encoding/json"
	"strings"
	"time"
)

// Record kinds produced by the transcript writer. Anything else is ignored
// without error.
const (
	recordTypeUser      = "user"
	recordTypeAssistant = "assistant"
	recordTypeSummary   = "summary"
	recordTypeSystem    = "system"
)

// fileRecord is one JSONL transcript line. Message content is either a plain
// string or an array of content blocks, so it stays raw until dispatch.
type fileRecord struct {
	Type       string       `json:"type"`
	UUID       string       `json:"uuid"`
	ParentUUID string       `json:"parentUuid"`
	SessionID  string       `json:"sessionId"`
	Timestamp  string       `json:"timestamp"`
	CWD        string       `json:"cwd"`
	GitBranch  string       `json:"gitBranch"`
	Version    string       `json:"version"`
	Message    *fileMessage `json:"message,omitempty"`
}

type fileMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   json.RawMessage `json:"usage,omitempty"`
}

// contentBlock covers every block shape the transcript emits: text,
// thinking, tool_use, and tool_result.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Name      string          `json:"name,omitempty"`
	ID        string          `json:"id,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// textContent decodes message content that is a plain string. Returns false
// for block-array content.
func textContent(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func contentBlocks(raw json.RawMessage) ([]contentBlock, bool) {
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

// blockText flattens a tool_result fragment's content, which is itself
// either a string or an array of text blocks.
func blockText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if s, ok := textContent(raw); ok {
		return s
	}
	blocks, ok := contentBlocks(raw)
	if !ok {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parseRecordTime is tolerant of both RFC3339 and fractional-second
// variants; the zero time signals "use the ingestion clock".
func parseRecordTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
