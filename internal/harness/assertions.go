package harness

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/rsi/internal/queue"
)

// AssertionContext gives final_state assertions access to the queue.
type AssertionContext struct {
	Queue *queue.Queue
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a.Events)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertFinalState:
		if actx == nil || actx.Queue == nil {
			return fmt.Errorf("final_state needs a queue")
		}
		return assertFinalState(actx.Queue, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func matches(e TraceEvent, a Assertion) bool {
	return (a.Stage == "" || e.Stage == a.Stage) &&
		(a.Item == "" || e.ItemID == a.Item) &&
		(a.Event == "" || e.Event == a.Event)
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, e := range trace {
		if matches(e, a) {
			return nil
		}
	}
	return fmt.Errorf("no entry with stage=%q item=%q event=%q", a.Stage, a.Item, a.Event)
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, e := range trace {
		if matches(e, a) {
			n++
		}
	}
	if n != a.Count {
		return fmt.Errorf("expected %d entries with stage=%q item=%q event=%q, got %d", a.Count, a.Stage, a.Item, a.Event, n)
	}
	return nil
}

// assertTraceOrder checks that the "stage:event" entries appear in order.
// Other entries may be interleaved.
func assertTraceOrder(trace []TraceEvent, events []string) error {
	next := 0
	for _, e := range trace {
		if next < len(events) && e.Stage+":"+e.Event == events[next] {
			next++
		}
	}
	if next < len(events) {
		return fmt.Errorf("event %q (position %d) not found in order", events[next], next)
	}
	return nil
}

func assertFinalState(q *queue.Queue, a Assertion) error {
	rows, err := tableRows(q, a.Table)
	if err != nil {
		return err
	}
	var selected []map[string]any
	for _, row := range rows {
		if rowMatches(row, a.Where) {
			selected = append(selected, row)
		}
	}
	if a.Rows != nil && len(selected) != *a.Rows {
		return fmt.Errorf("expected %d %s rows matching %v, got %d", *a.Rows, a.Table, a.Where, len(selected))
	}
	if len(a.Expect) == 0 {
		return nil
	}
	if len(selected) == 0 {
		return fmt.Errorf("no %s row matches %v", a.Table, a.Where)
	}
	for _, row := range selected {
		for field, want := range a.Expect {
			got, ok := lookup(row, field)
			if !ok {
				return fmt.Errorf("%s row has no field %q", a.Table, field)
			}
			if !equalValue(got, want) {
				return fmt.Errorf("%s.%s: expected %v, got %v", a.Table, field, want, got)
			}
		}
	}
	return nil
}

// tableRows renders the named queue area as generic rows, using each
// record's JSON field names.
func tableRows(q *queue.Queue, table string) ([]map[string]any, error) {
	var recs any
	switch table {
	case TableProposals:
		ps, err := q.Proposals()
		if err != nil {
			return nil, err
		}
		recs = ps
	case TableReports:
		rs, err := q.Reports()
		if err != nil {
			return nil, err
		}
		recs = rs
	case TableEscalations:
		es, err := q.Escalations()
		if err != nil {
			return nil, err
		}
		recs = es
	case TableDeployments, TableTerminal:
		return terminalRows(q, table)
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return toRows(recs)
}

func terminalRows(q *queue.Queue, table string) ([]map[string]any, error) {
	ids, err := q.StagingIDs()
	if err != nil {
		return nil, err
	}
	rows := []map[string]any{}
	for _, id := range ids {
		t, done := q.TerminalState(id)
		if table == TableTerminal {
			state := "none"
			if done {
				state = string(t)
			}
			rows = append(rows, map[string]any{"staging_id": id, "state": state})
			continue
		}
		if !done || t != queue.TerminalDeployed {
			continue
		}
		rec, err := q.ReadDeployed(id)
		if err != nil {
			return nil, err
		}
		row, err := toRow(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func toRows(v any) ([]map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	rows := []map[string]any{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func toRow(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func rowMatches(row, where map[string]any) bool {
	for field, want := range where {
		got, ok := lookup(row, field)
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

// lookup resolves a dotted field path such as "finding.kind".
func lookup(row map[string]any, path string) (any, bool) {
	var cur any = row
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// equalValue compares a JSON-decoded value with a YAML-decoded one by
// their printed form, so 2 and 2.0 are equal.
func equalValue(got, want any) bool {
	return fmt.Sprint(got) == fmt.Sprint(want)
}
