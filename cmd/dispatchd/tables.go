package main

import (
	"strconv"
	"time"

	"mercator-hq/dispatch/pkg/limits"
	"mercator-hq/dispatch/pkg/limits/history"
	"mercator-hq/dispatch/pkg/scheduler"
)

// Result types implement cli.Table for text and CSV output. JSON output
// encodes the underlying values.

type jobTable []*scheduler.Job

func (t jobTable) Header() []string {
	return []string{"ID", "STATUS", "SCHEDULED", "CONVERSATION", "AGENT", "TYPE", "DETAIL"}
}

func (t jobTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, j := range t {
		detail := j.ErrorMessage
		if detail == "" {
			detail = j.SentMessageID
		}
		rows = append(rows, []string{
			j.ID, string(j.Status), formatTime(j.ScheduledAt),
			j.ConversationID, j.AgentID, string(j.ContentType), detail,
		})
	}
	return rows
}

type statusTable struct {
	*limits.Status
}

func (t statusTable) Header() []string {
	return []string{"IDENTITY", "TIER", "WINDOW", "LIMIT", "USED", "REMAINING", "RESETS"}
}

func (t statusTable) Rows() [][]string {
	s := t.Status
	rows := make([][]string, 0, 4)
	for _, w := range []limits.Window{limits.WindowMinute, limits.WindowHour, limits.WindowDay} {
		ws := s.Window(w)
		rows = append(rows, []string{
			s.Identity, string(s.Tier), string(w),
			strconv.FormatInt(ws.Limit, 10), strconv.FormatInt(ws.Used, 10),
			strconv.FormatInt(ws.Remaining, 10), formatTime(ws.ResetAt),
		})
	}
	b := s.Budget
	rows = append(rows, []string{
		s.Identity, string(s.Tier), string(limits.WindowMonth),
		formatUSD(b.Limit), formatUSD(b.Used), formatUSD(b.Remaining), formatTime(b.ResetAt),
	})
	return rows
}

type tierTable []limits.TierDefinition

func (t tierTable) Header() []string {
	return []string{"TIER", "PER MINUTE", "PER HOUR", "PER DAY", "MONTHLY BUDGET"}
}

func (t tierTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, d := range t {
		rows = append(rows, []string{
			string(d.Name),
			strconv.FormatInt(d.RequestsPerMinute, 10),
			strconv.FormatInt(d.RequestsPerHour, 10),
			strconv.FormatInt(d.RequestsPerDay, 10),
			formatUSD(d.MonthlyBudget),
		})
	}
	return rows
}

type historyTable []*history.Record

func (t historyTable) Header() []string {
	return []string{"ID", "IDENTITY", "TIER", "PERIOD", "START", "END", "REQUESTS", "TOKENS", "COST"}
}

func (t historyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{
			r.ID, r.Identity, r.Tier, string(r.PeriodType),
			formatTime(r.PeriodStart), formatTime(r.PeriodEnd),
			strconv.FormatInt(r.Aggregates.Requests, 10),
			strconv.FormatInt(r.Aggregates.Tokens, 10),
			formatUSD(r.Aggregates.Cost),
		})
	}
	return rows
}

type messageTable []*scheduler.Message

func (t messageTable) Header() []string {
	return []string{"ID", "CREATED", "AGENT", "TYPE", "EXTERNAL ID", "CONTENT"}
}

func (t messageTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, m := range t {
		rows = append(rows, []string{
			m.ID, formatTime(m.CreatedAt), m.AgentID, string(m.ContentType), m.ExternalID, m.Content,
		})
	}
	return rows
}

type pollSummary scheduler.PollResult

func (p pollSummary) Header() []string {
	return []string{"SKIPPED", "SELECTED", "SENT", "FAILED", "CONFLICTS", "ABORTED"}
}

func (p pollSummary) Rows() [][]string {
	return [][]string{{
		strconv.FormatBool(p.Skipped),
		strconv.Itoa(p.Selected),
		strconv.Itoa(p.Sent),
		strconv.Itoa(p.Failed),
		strconv.Itoa(p.Conflicts),
		strconv.FormatBool(p.Aborted),
	}}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatUSD(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}
