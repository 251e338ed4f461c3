package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

// SessionSummary is a session row with computed activity counts.
type SessionSummary struct {
	Session
	EventCount    int64 `json:"event_count"`
	ToolCallCount int64 `json:"tool_call_count"`
}

// SessionDetail is one session with its full event list.
type SessionDetail struct {
	Session Session    `json:"session"`
	Events  []Event    `json:"events"`
	Tools   []ToolStat `json:"tools"`
}

// DayCost is one day bucket in a cost series.
type DayCost struct {
	Date                string  `json:"date"`
	Cost                float64 `json:"cost"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	Events              int64   `json:"events"`
}

// MinutePoint is one minute bucket of today's spend with a running total.
type MinutePoint struct {
	Minute     string  `json:"minute"`
	Cost       float64 `json:"cost"`
	Cumulative float64 `json:"cumulative"`
}

// CategoryCost is one slice of a categorical cost breakdown.
type CategoryCost struct {
	Key    string  `json:"key"`
	Cost   float64 `json:"cost"`
	Events int64   `json:"events"`
}

// GlobalStats is the engine-wide snapshot attached to live broadcasts.
type GlobalStats struct {
	Sessions    int64   `json:"sessions"`
	Events      int64   `json:"events"`
	TotalTokens int64   `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
	TodayCost   float64 `json:"today_cost"`
	TodayEvents int64   `json:"today_events"`
}

// ListSessions returns all sessions, most recent first, with event and tool
// call counts computed from the event log.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.project_path, s.git_branch, s.start_time, s.end_time,
			s.input_tokens, s.output_tokens, s.cache_read_tokens, s.cache_creation_tokens,
			s.total_cost, s.cli_version,
			COALESCE((SELECT COUNT(*) FROM events e WHERE e.session_id = s.id), 0),
			COALESCE((SELECT COUNT(*) FROM events e WHERE e.session_id = s.id AND e.tool_name IS NOT NULL), 0)
		FROM sessions s
		ORDER BY s.start_time DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			summary  SessionSummary
			startRaw string
			endRaw   sql.NullString
		)
		if err := rows.Scan(
			&summary.ID, &summary.ProjectPath, &summary.GitBranch, &startRaw, &endRaw,
			&summary.InputTokens, &summary.OutputTokens, &summary.CacheReadTokens,
			&summary.CacheCreationTokens, &summary.TotalCost, &summary.CLIVersion,
			&summary.EventCount, &summary.ToolCallCount,
		); err != nil {
			return nil, fmt.Errorf("store: scan session summary: %w", err)
		}
		if startRaw != "" {
			if t, err := parseTime(startRaw); err == nil {
				summary.StartTime = t
			}
		}
		if endRaw.Valid && endRaw.String != "" {
			if t, err := parseTime(endRaw.String); err == nil {
				summary.EndTime = &t
			}
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// GetSessionDetail returns one session with its chronological event list and
// per-tool statistics.
func (s *Store) GetSessionDetail(ctx context.Context, id string) (SessionDetail, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return SessionDetail{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE session_id = ? ORDER BY timestamp ASC, id ASC`, id)
	if err != nil {
		return SessionDetail{}, fmt.Errorf("store: list session events: %w", err)
	}
	defer rows.Close()

	detail := SessionDetail{Session: sess}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return SessionDetail{}, fmt.Errorf("store: scan event: %w", err)
		}
		detail.Events = append(detail.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return SessionDetail{}, err
	}

	tools, err := s.ToolStats(ctx, id)
	if err != nil {
		return SessionDetail{}, err
	}
	detail.Tools = tools
	return detail, nil
}

// DailyCosts returns a day-bucketed rollup for the last `days` days in the
// given timezone, in ascending date order. Days without activity are
// present with zeroed fields.
func (s *Store) DailyCosts(ctx context.Context, days int, loc *time.Location) ([]DayCost, error) {
	if days <= 0 {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	now := s.now().In(loc)
	firstDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -(days - 1))

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, COALESCE(cost, 0),
			COALESCE(input_tokens, 0), COALESCE(output_tokens, 0),
			COALESCE(cache_read_tokens, 0), COALESCE(cache_creation_tokens, 0)
		FROM events
		WHERE timestamp >= ?
	`, formatTime(firstDay))
	if err != nil {
		return nil, fmt.Errorf("store: daily costs: %w", err)
	}
	defer rows.Close()

	byDay := map[string]*DayCost{}
	for rows.Next() {
		var (
			tsRaw                string
			cost                 float64
			in, out, read, write int64
		)
		if err := rows.Scan(&tsRaw, &cost, &in, &out, &read, &write); err != nil {
			return nil, fmt.Errorf("store: scan daily cost row: %w", err)
		}
		ts, err := parseTime(tsRaw)
		if err != nil {
			continue
		}
		day := ts.In(loc).Format("2006-01-02")
		bucket, ok := byDay[day]
		if !ok {
			bucket = &DayCost{Date: day}
			byDay[day] = bucket
		}
		bucket.Cost += cost
		bucket.InputTokens += in
		bucket.OutputTokens += out
		bucket.CacheReadTokens += read
		bucket.CacheCreationTokens += write
		bucket.Events++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lo.Map(lo.Range(days), func(i int, _ int) DayCost {
		day := firstDay.AddDate(0, 0, i).Format("2006-01-02")
		if bucket, ok := byDay[day]; ok {
			return *bucket
		}
		return DayCost{Date: day}
	}), nil
}

// TodayByMinute returns today's spend bucketed by minute with a running
// cumulative total, ascending.
func (s *Store) TodayByMinute(ctx context.Context, loc *time.Location) ([]MinutePoint, error) {
	if loc == nil {
		loc = time.UTC
	}
	now := s.now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, COALESCE(cost, 0)
		FROM events
		WHERE timestamp >= ? AND cost IS NOT NULL
	`, formatTime(dayStart))
	if err != nil {
		return nil, fmt.Errorf("store: today by minute: %w", err)
	}
	defer rows.Close()

	byMinute := map[string]float64{}
	for rows.Next() {
		var (
			tsRaw string
			cost  float64
		)
		if err := rows.Scan(&tsRaw, &cost); err != nil {
			return nil, fmt.Errorf("store: scan minute row: %w", err)
		}
		ts, err := parseTime(tsRaw)
		if err != nil {
			continue
		}
		local := ts.In(loc)
		if local.Before(dayStart) {
			continue
		}
		byMinute[local.Format("15:04")] += cost
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	minutes := lo.Keys(byMinute)
	sort.Strings(minutes)

	out := make([]MinutePoint, 0, len(minutes))
	cumulative := 0.0
	for _, minute := range minutes {
		cumulative += byMinute[minute]
		out = append(out, MinutePoint{Minute: minute, Cost: byMinute[minute], Cumulative: cumulative})
	}
	return out, nil
}

// TopEvents returns the n most expensive events.
func (s *Store) TopEvents(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE cost IS NOT NULL ORDER BY cost DESC, timestamp DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: top events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan top event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CostByTool breaks total cost down by tool name. Events without a tool are
// excluded.
func (s *Store) CostByTool(ctx context.Context) ([]CategoryCost, error) {
	return s.categoryQuery(ctx, `
		SELECT tool_name, COALESCE(SUM(cost), 0), COUNT(*)
		FROM events
		WHERE tool_name IS NOT NULL
		GROUP BY tool_name
		ORDER BY 2 DESC
	`)
}

// CostByModel breaks total cost down by model identifier.
func (s *Store) CostByModel(ctx context.Context) ([]CategoryCost, error) {
	return s.categoryQuery(ctx, `
		SELECT COALESCE(model, 'unknown'), COALESCE(SUM(cost), 0), COUNT(*)
		FROM events
		WHERE cost IS NOT NULL
		GROUP BY 1
		ORDER BY 2 DESC
	`)
}

// CostByKind breaks total cost down by event kind, counting cost-free kinds
// too so activity shape is visible.
func (s *Store) CostByKind(ctx context.Context) ([]CategoryCost, error) {
	return s.categoryQuery(ctx, `
		SELECT kind, COALESCE(SUM(cost), 0), COUNT(*)
		FROM events
		GROUP BY kind
		ORDER BY 2 DESC
	`)
}

// CostByContentLength buckets cost by how verbose the event content is.
func (s *Store) CostByContentLength(ctx context.Context) ([]CategoryCost, error) {
	return s.categoryQuery(ctx, `
		SELECT CASE
			WHEN LENGTH(content) < 100 THEN 'short'
			WHEN LENGTH(content) < 500 THEN 'medium'
			WHEN LENGTH(content) < 2000 THEN 'long'
			ELSE 'very_long'
		END, COALESCE(SUM(cost), 0), COUNT(*)
		FROM events
		WHERE cost IS NOT NULL
		GROUP BY 1
		ORDER BY 2 DESC
	`)
}

var contentCategories = []struct {
	name     string
	keywords []string
}{
	{"debugging", []string{"fix", "bug", "error", "crash", "broken"}},
	{"testing", []string{"test", "coverage", "assert"}},
	{"refactoring", []string{"refactor", "rename", "clean up", "cleanup", "restructure"}},
	{"documentation", []string{"document", "readme", "comment", "docstring"}},
	{"feature", []string{"add", "implement", "create", "build", "support"}},
}

func classifyContent(content string) string {
	lower := strings.ToLower(content)
	for _, category := range contentCategories {
		for _, keyword := range category.keywords {
			if strings.Contains(lower, keyword) {
				return category.name
			}
		}
	}
	return "other"
}

// CostByCategory classifies cost-bearing events by simple keyword heuristics
// over their content.
func (s *Store) CostByCategory(ctx context.Context) ([]CategoryCost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content, cost FROM events WHERE cost IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("store: cost by category: %w", err)
	}
	defer rows.Close()

	byCategory := map[string]*CategoryCost{}
	for rows.Next() {
		var (
			content string
			cost    float64
		)
		if err := rows.Scan(&content, &cost); err != nil {
			return nil, fmt.Errorf("store: scan category row: %w", err)
		}
		key := classifyContent(content)
		bucket, ok := byCategory[key]
		if !ok {
			bucket = &CategoryCost{Key: key}
			byCategory[key] = bucket
		}
		bucket.Cost += cost
		bucket.Events++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	keys := lo.Keys(byCategory)
	sort.Slice(keys, func(i, j int) bool {
		if byCategory[keys[i]].Cost != byCategory[keys[j]].Cost {
			return byCategory[keys[i]].Cost > byCategory[keys[j]].Cost
		}
		return keys[i] < keys[j]
	})
	return lo.Map(keys, func(key string, _ int) CategoryCost {
		return *byCategory[key]
	}), nil
}

// Stats computes the engine-wide snapshot used in live broadcasts.
// Session input totals already fold cache reads in (and the producer folds
// cache writes into input_tokens), so token totals sum input and output
// only.
func (s *Store) Stats(ctx context.Context) (GlobalStats, error) {
	var stats GlobalStats

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM events),
			(SELECT COALESCE(SUM(input_tokens + output_tokens), 0) FROM sessions),
			(SELECT COALESCE(SUM(total_cost), 0) FROM sessions)
	`).Scan(&stats.Sessions, &stats.Events, &stats.TotalTokens, &stats.TotalCost)
	if err != nil {
		return GlobalStats{}, fmt.Errorf("store: global stats: %w", err)
	}

	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0), COUNT(*)
		FROM events
		WHERE timestamp >= ?
	`, formatTime(dayStart)).Scan(&stats.TodayCost, &stats.TodayEvents)
	if err != nil {
		return GlobalStats{}, fmt.Errorf("store: today stats: %w", err)
	}
	return stats, nil
}

func (s *Store) categoryQuery(ctx context.Context, query string) ([]CategoryCost, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: category query: %w", err)
	}
	defer rows.Close()

	var out []CategoryCost
	for rows.Next() {
		var c CategoryCost
		if err := rows.Scan(&c.Key, &c.Cost, &c.Events); err != nil {
			return nil, fmt.Errorf("store: scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
