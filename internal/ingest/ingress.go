package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adityakinifr/ccmonitor/internal/store"
)

// Hook event names the producer's hook script forwards.
const (
	HookUserPromptSubmit = "UserPromptSubmit"
	HookPreToolUse       = "PreToolUse"
	HookPostToolUse      = "PostToolUse"
	HookStop             = "Stop"
	HookSessionEnd       = "SessionEnd"
)

// HookEvent is one push-style record: session id plus lifecycle or
// tool-call metadata, never a full transcript entry. Push records carry no
// token usage and no producer uuid.
type HookEvent struct {
	SessionID     string          `json:"session_id"`
	HookEventName string          `json:"hook_event_name"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolInput     json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse  json.RawMessage `json:"tool_response,omitempty"`
	Prompt        string          `json:"prompt,omitempty"`
	Timestamp     time.Time       `json:"timestamp,omitempty"`
}

// ProcessHook ingests one push record through the same session-upsert and
// event-insert path as file records. Broadcast delivery problems never fail
// the ingestion; a storage failure does.
func (p *Pipeline) ProcessHook(ctx context.Context, hook HookEvent) error {
	if hook.SessionID == "" {
		return fmt.Errorf("ingest: hook event: empty session_id")
	}
	if hook.HookEventName == "" {
		return fmt.Errorf("ingest: hook event: empty hook_event_name")
	}

	ts := hook.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}

	delta := store.SessionDelta{ID: hook.SessionID, StartTime: ts}
	if hook.HookEventName == HookStop || hook.HookEventName == HookSessionEnd {
		end := ts
		delta.EndTime = &end
	}
	if err := p.store.UpsertSession(ctx, delta); err != nil {
		return err
	}

	ev := store.Event{
		ID:        uuid.NewString(),
		SessionID: hook.SessionID,
		Source:    store.SourceHook,
		Kind:      hook.HookEventName,
		ToolName:  hook.ToolName,
		Content:   truncate(hookContent(hook), maxStoredContent),
		Timestamp: ts,
		Raw:       rawHookPayload(hook),
	}
	if _, err := p.store.InsertEvent(ctx, ev); err != nil {
		return err
	}

	if hook.HookEventName == HookPostToolUse && strings.HasPrefix(hook.ToolName, externalToolPrefix) {
		if err := p.store.UpsertToolStat(ctx, store.ToolStatDelta{
			SessionID: hook.SessionID,
			ToolName:  hook.ToolName,
			Success:   !hookResponseIsError(hook.ToolResponse),
		}); err != nil {
			return err
		}
	}

	p.publish(ctx, ev)
	if delta.EndTime != nil {
		p.publishSession(ctx, hook.SessionID)
	}
	return nil
}

func hookContent(hook HookEvent) string {
	switch {
	case hook.Prompt != "":
		return hook.Prompt
	case hook.ToolName != "" && len(hook.ToolInput) > 0:
		input := strings.TrimSpace(string(hook.ToolInput))
		return fmt.Sprintf("→ %s(%s)", hook.ToolName, truncate(input, maxToolInputRender))
	case hook.ToolName != "":
		return "→ " + hook.ToolName
	default:
		return hook.HookEventName
	}
}

func rawHookPayload(hook HookEvent) string {
	raw, err := json.Marshal(hook)
	if err != nil {
		return ""
	}
	return string(raw)
}

// hookResponseIsError inspects the free-form tool_response for an error
// flag. Absence of a recognizable flag counts as success.
func hookResponseIsError(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var resp struct {
		IsError bool `json:"is_error"`
		Error   any  `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false
	}
	if resp.IsError {
		return true
	}
	return resp.Error != nil
}
