package agent

import (
	"sort"
	"sync"
)

// RunTrace collects what one query run looked at and used: the tools that
// ran and the documents considered versus actually cited. It backs the done
// event metadata and the saved search history row.
//
// RunTrace is safe for concurrent use; tools report into it in parallel.
type RunTrace struct {
	mu sync.Mutex

	toolCalls        []string
	consideredDocIDs map[string]struct{}
	citedDocIDs      map[string]struct{}
	resultCount      int
}

func NewRunTrace() *RunTrace {
	return &RunTrace{
		consideredDocIDs: make(map[string]struct{}),
		citedDocIDs:      make(map[string]struct{}),
	}
}

// RecordToolCall appends a completed tool run, preserving call order.
func (t *RunTrace) RecordToolCall(tool string, count int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.toolCalls = append(t.toolCalls, tool)
	t.resultCount += count
}

// RecordConsidered marks documents surfaced by retrieval.
func (t *RunTrace) RecordConsidered(ids ...string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			t.consideredDocIDs[id] = struct{}{}
		}
	}
}

// RecordCited marks documents the synthesized answer actually cited.
func (t *RunTrace) RecordCited(id string) {
	if t == nil || id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.citedDocIDs[id] = struct{}{}
}

// TraceSnapshot is an immutable copy of a run trace.
type TraceSnapshot struct {
	ToolsUsed   []string
	Considered  []string
	Cited       []string
	ResultCount int
}

func (t *RunTrace) Snapshot() TraceSnapshot {
	if t == nil {
		return TraceSnapshot{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TraceSnapshot{
		ToolsUsed:   append([]string(nil), t.toolCalls...),
		Considered:  make([]string, 0, len(t.consideredDocIDs)),
		Cited:       make([]string, 0, len(t.citedDocIDs)),
		ResultCount: t.resultCount,
	}
	for id := range t.consideredDocIDs {
		s.Considered = append(s.Considered, id)
	}
	for id := range t.citedDocIDs {
		s.Cited = append(s.Cited, id)
	}
	sort.Strings(s.Considered)
	sort.Strings(s.Cited)
	return s
}
