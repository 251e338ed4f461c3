package ingest

import (
	"context"
	"strings"
	"testing"
)

func TestClassifier_AssistantThinkingAndToolUse(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	line := `{"type":"assistant","uuid":"a-1","timestamp":"2026-03-07T10:00:00.000Z","message":{"role":"assistant","model":"claude-opus-4","content":[` +
		`{"type":"thinking","thinking":"consider the tradeoffs"},` +
		`{"type":"text","text":"I will edit the file."},` +
		`{"type":"tool_use","id":"tu-1","name":"Edit","input":{"file_path":"main.go"}}` +
		`]}}`

	pass := newFilePass()
	if err := p.processLine(ctx, "sess-abc", line, pass); err != nil {
		t.Fatalf("processLine: %v", err)
	}

	detail, err := st.GetSessionDetail(ctx, "sess-abc")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(detail.Events))
	}
	ev := detail.Events[0]
	if !strings.Contains(ev.Content, "[thinking] consider the tradeoffs") {
		t.Fatalf("thinking block not marked: %q", ev.Content)
	}
	if !strings.Contains(ev.Content, "I will edit the file.") {
		t.Fatalf("text block missing: %q", ev.Content)
	}
	if !strings.Contains(ev.Content, "→ Edit(") {
		t.Fatalf("tool use not rendered: %q", ev.Content)
	}
	if ev.ToolName != "Edit" {
		t.Fatalf("tool name = %q, want Edit", ev.ToolName)
	}

	// A built-in tool never feeds per-tool statistics.
	stats, err := st.ToolStats(ctx, "sess-abc")
	if err != nil {
		t.Fatalf("ToolStats: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("tool stats = %+v, want none", stats)
	}
}

func TestClassifier_ToolResultFragments(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	line := `{"type":"user","uuid":"u-1","timestamp":"2026-03-07T10:00:00.000Z","message":{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"tu-1","content":"ok output"},` +
		`{"type":"tool_result","tool_use_id":"tu-2","is_error":true,"content":[{"type":"text","text":"command failed"}]}` +
		`]}}`

	pass := newFilePass()
	if err := p.processLine(ctx, "sess-abc", line, pass); err != nil {
		t.Fatalf("processLine: %v", err)
	}

	detail, err := st.GetSessionDetail(ctx, "sess-abc")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(detail.Events))
	}
	ev := detail.Events[0]
	if ev.Kind != "tool_result" {
		t.Fatalf("kind = %q, want tool_result", ev.Kind)
	}
	if !strings.Contains(ev.Content, "ok output") {
		t.Fatalf("fragment missing: %q", ev.Content)
	}
	if !strings.Contains(ev.Content, "[error] command failed") {
		t.Fatalf("error fragment not marked: %q", ev.Content)
	}
}

func TestClassifier_ExternalToolStatsFromResults(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	use := `{"type":"assistant","uuid":"a-1","timestamp":"2026-03-07T10:00:00.000Z","message":{"role":"assistant","model":"sonnet","content":[` +
		`{"type":"tool_use","id":"tu-1","name":"mcp__github__create_issue","input":{"title":"x"}},` +
		`{"type":"tool_use","id":"tu-2","name":"mcp__github__close_issue","input":{"id":7}}` +
		`]}}`
	result := `{"type":"user","uuid":"u-1","timestamp":"2026-03-07T10:00:05.000Z","message":{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"tu-1","is_error":true,"content":"rate limited"}` +
		`]}}`

	pass := newFilePass()
	if err := p.processLine(ctx, "sess-abc", use, pass); err != nil {
		t.Fatalf("tool use line: %v", err)
	}
	if err := p.processLine(ctx, "sess-abc", result, pass); err != nil {
		t.Fatalf("tool result line: %v", err)
	}
	if err := pass.flush(ctx, st); err != nil {
		t.Fatalf("flush: %v", err)
	}

	stats, err := st.ToolStats(ctx, "sess-abc")
	if err != nil {
		t.Fatalf("ToolStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("tool stats = %+v, want 2 tools", stats)
	}
	byName := map[string]struct{ succ, errs int64 }{}
	for _, s := range stats {
		byName[s.ToolName] = struct{ succ, errs int64 }{s.Successes, s.Errors}
	}
	if got := byName["mcp__github__create_issue"]; got.succ != 0 || got.errs != 1 {
		t.Fatalf("create_issue = %+v, want error", got)
	}
	// No result fragment arrived for tu-2; the flush counts it a success.
	if got := byName["mcp__github__close_issue"]; got.succ != 1 || got.errs != 0 {
		t.Fatalf("close_issue = %+v, want success", got)
	}
}

func TestClassifier_LateErrorResultReclassifiesToolStat(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	use := `{"type":"assistant","uuid":"a-1","timestamp":"2026-03-07T10:00:00.000Z","message":{"role":"assistant","model":"sonnet","content":[` +
		`{"type":"tool_use","id":"tu-1","name":"mcp__github__create_issue","input":{"title":"x"}}` +
		`]}}`
	result := `{"type":"user","uuid":"u-1","timestamp":"2026-03-07T10:00:09.000Z","message":{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"tu-1","is_error":true,"content":"rate limited"}` +
		`]}}`

	// The tool runs longer than the debounce window: its use and its result
	// land in separate passes. The first pass ends with no result seen, so
	// the invocation is provisionally a success.
	firstPass := newFilePass()
	if err := p.processLine(ctx, "sess-abc", use, firstPass); err != nil {
		t.Fatalf("tool use line: %v", err)
	}
	if err := firstPass.flush(ctx, st); err != nil {
		t.Fatalf("first flush: %v", err)
	}

	stats, err := st.ToolStats(ctx, "sess-abc")
	if err != nil {
		t.Fatalf("ToolStats: %v", err)
	}
	if len(stats) != 1 || stats[0].Successes != 1 {
		t.Fatalf("interim stats = %+v, want provisional success", stats)
	}

	// The error result in the next pass must flip the recorded outcome.
	secondPass := newFilePass()
	if err := p.processLine(ctx, "sess-abc", result, secondPass); err != nil {
		t.Fatalf("tool result line: %v", err)
	}
	if err := secondPass.flush(ctx, st); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	stats, err = st.ToolStats(ctx, "sess-abc")
	if err != nil {
		t.Fatalf("ToolStats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("stats = %+v, want 1 tool", stats)
	}
	s := stats[0]
	if s.Invocations != 1 || s.Successes != 0 || s.Errors != 1 {
		t.Fatalf("stat = %+v, want invocations=1 successes=0 errors=1", s)
	}

	// A replayed success result after the correction must not flip it back.
	late := `{"type":"user","uuid":"u-2","timestamp":"2026-03-07T10:00:10.000Z","message":{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"tu-1","content":"retried ok"}` +
		`]}}`
	thirdPass := newFilePass()
	if err := p.processLine(ctx, "sess-abc", late, thirdPass); err != nil {
		t.Fatalf("late result line: %v", err)
	}
	stats, err = st.ToolStats(ctx, "sess-abc")
	if err != nil {
		t.Fatalf("ToolStats: %v", err)
	}
	if s := stats[0]; s.Invocations != 1 || s.Errors != 1 {
		t.Fatalf("stat after settled outcome = %+v", s)
	}
}

func TestClassifier_ContentCapped(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	long := strings.Repeat("x", maxStoredContent+500)
	line := `{"type":"user","uuid":"u-1","timestamp":"2026-03-07T10:00:00.000Z","message":{"role":"user","content":"` + long + `"}}`

	pass := newFilePass()
	if err := p.processLine(ctx, "sess-abc", line, pass); err != nil {
		t.Fatalf("processLine: %v", err)
	}

	detail, err := st.GetSessionDetail(ctx, "sess-abc")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if got := len(detail.Events[0].Content); got != maxStoredContent {
		t.Fatalf("stored content length = %d, want %d", got, maxStoredContent)
	}
}

func TestClassifier_ToolInputRenderTruncated(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	long := strings.Repeat("y", 1000)
	line := `{"type":"assistant","uuid":"a-1","timestamp":"2026-03-07T10:00:00.000Z","message":{"role":"assistant","model":"sonnet","content":[` +
		`{"type":"tool_use","id":"tu-1","name":"Bash","input":{"command":"` + long + `"}}` +
		`]}}`

	pass := newFilePass()
	if err := p.processLine(ctx, "sess-abc", line, pass); err != nil {
		t.Fatalf("processLine: %v", err)
	}

	detail, err := st.GetSessionDetail(ctx, "sess-abc")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	content := detail.Events[0].Content
	if len(content) > len("→ Bash(")+maxToolInputRender+len(")") {
		t.Fatalf("tool input render too long: %d bytes", len(content))
	}
}

func TestClassifier_MissingTimestampUsesClock(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	line := `{"type":"user","uuid":"u-1","message":{"role":"user","content":"hello"}}`
	pass := newFilePass()
	if err := p.processLine(ctx, "sess-abc", line, pass); err != nil {
		t.Fatalf("processLine: %v", err)
	}

	sess, err := st.GetSession(ctx, "sess-abc")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !sess.StartTime.Equal(p.now()) {
		t.Fatalf("start = %v, want clock %v", sess.StartTime, p.now())
	}
}
