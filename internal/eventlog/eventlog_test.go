package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func at(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

func entry(tool string, ts time.Time, text string) *Entry {
	return &Entry{
		AgentToolID:   tool,
		ContextID:     "ctx-1",
		PrimaryTaskID: "task-1",
		Timestamp:     ts,
		EventType:     EventTask,
		ResponseText:  text,
	}
}

func TestMergeEmpty(t *testing.T) {
	got := Merge(nil, nil)
	require.NotNil(t, got)
	assert.Empty(t, got)

	got = Merge([]*Entry{nil}, []*Entry{nil, nil})
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMergeDedupAcrossSources(t *testing.T) {
	persisted := []*Entry{entry("a2a_planner", at(1), "done")}
	live := []*Entry{entry("a2a_planner", at(1), "done")}
	live[0].AgentName = "live copy"

	got := Merge(persisted, live)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].AgentName, "first occurrence must win")
}

func TestMergeDedupCaseInsensitive(t *testing.T) {
	a := entry("A2A_Planner", at(1), "Done")
	b := entry("a2a_planner", at(1), "done")

	got := Merge([]*Entry{a}, []*Entry{b})
	require.Len(t, got, 1)
	assert.Equal(t, "A2A_Planner", got[0].AgentToolID)
}

func TestMergeOrdering(t *testing.T) {
	t1 := entry("x", at(1), "one")
	t2 := entry("x", at(2), "two")
	t3 := entry("x", at(3), "three")
	none := entry("x", time.Time{}, "no timestamp")

	got := Merge([]*Entry{t3, none, t1}, []*Entry{t2})
	require.Len(t, got, 4)

	var texts []string
	for _, e := range got {
		texts = append(texts, e.ResponseText)
	}
	assert.Equal(t, []string{"three", "two", "one", "no timestamp"}, texts)
}

func TestMergeMissingTimestampIsEpoch(t *testing.T) {
	before := entry("x", time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC), "before epoch")
	none := entry("x", time.Time{}, "no timestamp")
	after := entry("x", time.Unix(60, 0), "after epoch")

	got := Merge([]*Entry{before, none}, []*Entry{after})
	require.Len(t, got, 3)

	var texts []string
	for _, e := range got {
		texts = append(texts, e.ResponseText)
	}
	assert.Equal(t, []string{"after epoch", "no timestamp", "before epoch"}, texts)
}

func TestMergeStableForEqualTimestamps(t *testing.T) {
	a := entry("x", at(1), "first")
	b := entry("y", at(1), "second")

	got := Merge([]*Entry{a}, []*Entry{b})
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ResponseText)
	assert.Equal(t, "second", got[1].ResponseText)
}

func TestMergeIdempotent(t *testing.T) {
	persisted := []*Entry{entry("x", at(1), "one"), entry("y", at(5), "five"), nil}
	live := []*Entry{entry("x", at(1), "one"), entry("z", time.Time{}, "")}

	first := Merge(persisted, live)
	second := Merge(persisted, live)
	assert.Equal(t, first, second)

	// feeding the result back in changes nothing
	var again []*Entry
	for i := range first {
		again = append(again, &first[i])
	}
	assert.Equal(t, first, Merge(again, live))
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	persisted := []*Entry{entry("x", at(1), "one"), entry("x", at(3), "three")}
	Merge(persisted, nil)
	assert.Equal(t, "one", persisted[0].ResponseText)
	assert.Equal(t, "three", persisted[1].ResponseText)
}

func TestKey(t *testing.T) {
	e := &Entry{AgentKey: "Planner", ContextID: "C", PrimaryTaskID: "T", Timestamp: time.UnixMilli(1700000000000), ResponseText: "Hi"}
	assert.Equal(t, "planner:c:t:1700000000000:hi", Key(e))

	e.AgentToolID = "a2a_planner"
	assert.Equal(t, "a2a_planner:c:t:1700000000000:hi", Key(e))

	assert.Equal(t, "unknown::::", Key(&Entry{}))
}
