package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/adityakinifr/ccmonitor/internal/pricing"
	"github.com/adityakinifr/ccmonitor/internal/store"
)

// filePass carries state for one debounced pass over one file: the ids of
// tool uses introduced by this pass, so the pass end can settle the ones
// whose results have not arrived. Ongoing outcomes live in the store's
// tool_uses table, because a result can land in a later pass than its use.
type filePass struct {
	toolUses []string
}

func newFilePass() *filePass {
	return &filePass{}
}

func (fp *filePass) add(toolUseID string) {
	if toolUseID != "" {
		fp.toolUses = append(fp.toolUses, toolUseID)
	}
}

// resolveToolResult settles the invocation a result fragment belongs to. A
// use still pending gets counted now; one the pass end already counted a
// success gets reclassified when the late result carries an error. Results
// for unknown ids (built-in tools) are ignored.
func resolveToolResult(ctx context.Context, st *store.Store, toolUseID string, isError bool) error {
	if toolUseID == "" {
		return nil
	}
	tu, ok, err := st.GetToolUse(ctx, toolUseID)
	if err != nil || !ok {
		return err
	}

	switch tu.Outcome {
	case store.ToolUseOutcomePending:
		if err := st.UpsertToolStat(ctx, store.ToolStatDelta{
			SessionID: tu.SessionID,
			ToolName:  tu.ToolName,
			Success:   !isError,
		}); err != nil {
			return err
		}
		outcome := store.ToolUseOutcomeSuccess
		if isError {
			outcome = store.ToolUseOutcomeError
		}
		return st.SetToolUseOutcome(ctx, tu.ID, outcome)
	case store.ToolUseOutcomeSuccess:
		if !isError {
			return nil
		}
		if err := st.ReclassifyToolStatError(ctx, tu.SessionID, tu.ToolName); err != nil {
			return err
		}
		return st.SetToolUseOutcome(ctx, tu.ID, store.ToolUseOutcomeError)
	default:
		return nil
	}
}

// flush counts tool uses from this pass that never produced a result as
// successes; a failed invocation always surfaces an error fragment, so a
// late error still corrects the count via resolveToolResult.
func (fp *filePass) flush(ctx context.Context, st *store.Store) error {
	for _, id := range fp.toolUses {
		tu, ok, err := st.GetToolUse(ctx, id)
		if err != nil {
			return err
		}
		if !ok || tu.Outcome != store.ToolUseOutcomePending {
			continue
		}
		if err := st.UpsertToolStat(ctx, store.ToolStatDelta{
			SessionID: tu.SessionID,
			ToolName:  tu.ToolName,
			Success:   true,
		}); err != nil {
			return err
		}
		if err := st.SetToolUseOutcome(ctx, id, store.ToolUseOutcomeSuccess); err != nil {
			return err
		}
	}
	fp.toolUses = nil
	return nil
}

// processLine classifies one raw transcript line and applies its event plus
// session deltas. Duplicates and unrecognized record types are dropped
// silently; a line that is not valid JSON is skipped without error.
func (p *Pipeline) processLine(ctx context.Context, sessionID, line string, pass *filePass) error {
	var rec fileRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil
	}

	switch rec.Type {
	case recordTypeUser, recordTypeAssistant:
	default:
		return nil
	}
	if rec.Message == nil {
		return nil
	}

	// Global dedup: the same logical action shows up in multiple physical
	// files when sessions are resumed or forked.
	if rec.UUID != "" {
		seen, err := p.store.HasEventUUID(ctx, rec.UUID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
	}

	ts := parseRecordTime(rec.Timestamp)
	if ts.IsZero() {
		ts = p.now()
	}

	// Seed the session row before the event insert; token totals are only
	// added after the insert succeeds so a dedup race cannot double-count.
	if err := p.store.UpsertSession(ctx, store.SessionDelta{
		ID:          sessionID,
		StartTime:   ts,
		ProjectPath: rec.CWD,
		GitBranch:   rec.GitBranch,
		CLIVersion:  rec.Version,
	}); err != nil {
		return err
	}

	ev := store.Event{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Source:     store.SourceFile,
		Timestamp:  ts,
		UUID:       rec.UUID,
		ParentUUID: rec.ParentUUID,
		Raw:        line,
	}

	var (
		totals   *store.SessionDelta
		toolUses []store.ToolUse
	)
	switch rec.Type {
	case recordTypeUser:
		if err := classifyUser(ctx, p.store, &ev, rec.Message); err != nil {
			return err
		}
	case recordTypeAssistant:
		totals, toolUses = classifyAssistant(sessionID, &ev, rec.Message)
	}
	if ev.Kind == "" {
		return nil
	}
	ev.Content = truncate(ev.Content, maxStoredContent)

	inserted, err := p.store.InsertEvent(ctx, ev)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	if totals != nil {
		if err := p.store.UpsertSession(ctx, *totals); err != nil {
			return err
		}
	}
	for _, tu := range toolUses {
		if err := p.store.InsertToolUse(ctx, tu); err != nil {
			return err
		}
		pass.add(tu.ID)
	}

	p.publish(ctx, ev)
	return nil
}

// classifyUser handles both plain text messages and tool-result batches.
// Result fragments also settle the tool uses they belong to, including uses
// ingested by an earlier pass.
func classifyUser(ctx context.Context, st *store.Store, ev *store.Event, msg *fileMessage) error {
	if text, ok := textContent(msg.Content); ok {
		ev.Kind = "user"
		ev.Content = text
		return nil
	}

	blocks, ok := contentBlocks(msg.Content)
	if !ok {
		return nil
	}

	var (
		parts      []string
		hasResults bool
	)
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		case "tool_result":
			hasResults = true
			frag := blockText(b.Content)
			if b.IsError {
				frag = "[error] " + frag
			}
			parts = append(parts, frag)
			if err := resolveToolResult(ctx, st, b.ToolUseID, b.IsError); err != nil {
				return err
			}
		}
	}
	if len(parts) == 0 && !hasResults {
		return nil
	}

	if hasResults {
		ev.Kind = "tool_result"
	} else {
		ev.Kind = "user"
	}
	ev.Content = strings.Join(parts, "\n")
	return nil
}

// classifyAssistant flattens the reply's content blocks, computes usage and
// cost, and returns the session totals delta plus the external tool uses to
// record once the event row is durably stored.
func classifyAssistant(sessionID string, ev *store.Event, msg *fileMessage) (*store.SessionDelta, []store.ToolUse) {
	ev.Kind = "assistant"
	ev.Model = msg.Model

	var (
		parts    []string
		toolUses []store.ToolUse
	)
	if text, ok := textContent(msg.Content); ok {
		if text != "" {
			parts = append(parts, text)
		}
	} else if blocks, ok := contentBlocks(msg.Content); ok {
		for _, b := range blocks {
			switch b.Type {
			case "text":
				if b.Text != "" {
					parts = append(parts, b.Text)
				}
			case "thinking":
				if b.Thinking != "" {
					parts = append(parts, "[thinking] "+b.Thinking)
				}
			case "tool_use":
				if ev.ToolName == "" {
					ev.ToolName = b.Name
				}
				parts = append(parts, renderToolUse(b))
				if strings.HasPrefix(b.Name, externalToolPrefix) && b.ID != "" {
					toolUses = append(toolUses, store.ToolUse{
						ID:        b.ID,
						SessionID: sessionID,
						ToolName:  b.Name,
					})
				}
			}
		}
	}
	ev.Content = strings.Join(parts, "\n")

	if len(msg.Usage) == 0 {
		return nil, toolUses
	}
	var usage pricing.Usage
	if err := json.Unmarshal(msg.Usage, &usage); err != nil {
		return nil, toolUses
	}

	breakdown := pricing.ExtractUsage(usage)
	cost := pricing.Cost(msg.Model, usage)

	ev.InputTokens = &breakdown.Input
	ev.OutputTokens = &breakdown.Output
	ev.CacheReadTokens = &breakdown.CacheRead
	ev.CacheCreationTokens = &breakdown.CacheWrite
	ev.Cost = &cost

	// Session input totals carry input + cache reads so cached turns are
	// not undercounted.
	return &store.SessionDelta{
		ID:                  sessionID,
		InputTokens:         breakdown.TotalInput,
		OutputTokens:        breakdown.Output,
		CacheReadTokens:     breakdown.CacheRead,
		CacheCreationTokens: breakdown.CacheWrite,
		Cost:                cost,
	}, toolUses
}

func renderToolUse(b contentBlock) string {
	input := strings.TrimSpace(string(b.Input))
	return fmt.Sprintf("→ %s(%s)", b.Name, truncate(input, maxToolInputRender))
}
