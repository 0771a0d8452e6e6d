package tracker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackerUnderTest runs the shared contract tests against both
// implementations.
func trackerUnderTest(t *testing.T, name string) Tracker {
	t.Helper()
	switch name {
	case "in-memory":
		return NewInMemoryTracker()
	case "sqlite":
		tr, err := NewSQLiteTracker(context.Background(), filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { tr.Close() })
		return tr
	default:
		t.Fatalf("unknown tracker %q", name)
		return nil
	}
}

func TestTrackerLifecycle(t *testing.T) {
	for _, impl := range []string{"in-memory", "sqlite"} {
		t.Run(impl, func(t *testing.T) {
			ctx := context.Background()
			tr := trackerUnderTest(t, impl)

			execID, err := tr.RecordStart(ctx, "run-1", "agent-a", 1, map[string]any{"task": "demo"})
			require.NoError(t, err)
			require.NotEmpty(t, execID)

			records, err := tr.Query(ctx, Filter{RunID: "run-1"})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, StatusRunning, records[0].Status)
			assert.Equal(t, 1, records[0].Attempt)
			assert.Equal(t, "demo", records[0].Input["task"])
			assert.False(t, records[0].StartedAt.IsZero())

			err = tr.RecordTerminal(ctx, execID, StatusSucceeded, map[string]any{"text": "done"}, "")
			require.NoError(t, err)

			records, err = tr.Query(ctx, Filter{RunID: "run-1"})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, StatusSucceeded, records[0].Status)
			assert.Equal(t, "done", records[0].Output["text"])
			assert.False(t, records[0].EndedAt.IsZero())
		})
	}
}

func TestTrackerTerminalIsImmutable(t *testing.T) {
	for _, impl := range []string{"in-memory", "sqlite"} {
		t.Run(impl, func(t *testing.T) {
			ctx := context.Background()
			tr := trackerUnderTest(t, impl)

			execID, err := tr.RecordStart(ctx, "run-1", "agent-a", 1, nil)
			require.NoError(t, err)
			require.NoError(t, tr.RecordTerminal(ctx, execID, StatusFailed, nil, "boom"))

			// A second terminal write must be rejected, whatever the status.
			err = tr.RecordTerminal(ctx, execID, StatusSucceeded, nil, "")
			require.Error(t, err)

			records, err := tr.Query(ctx, Filter{RunID: "run-1"})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, StatusFailed, records[0].Status)
			assert.Equal(t, "boom", records[0].Error)
		})
	}
}

func TestTrackerRejectsNonTerminalWrite(t *testing.T) {
	for _, impl := range []string{"in-memory", "sqlite"} {
		t.Run(impl, func(t *testing.T) {
			ctx := context.Background()
			tr := trackerUnderTest(t, impl)

			execID, err := tr.RecordStart(ctx, "run-1", "agent-a", 1, nil)
			require.NoError(t, err)
			require.Error(t, tr.RecordTerminal(ctx, execID, StatusRunning, nil, ""))
			require.Error(t, tr.RecordTerminal(ctx, "no-such-execution", StatusFailed, nil, ""))
		})
	}
}

func TestTrackerSkippedRecords(t *testing.T) {
	for _, impl := range []string{"in-memory", "sqlite"} {
		t.Run(impl, func(t *testing.T) {
			ctx := context.Background()
			tr := trackerUnderTest(t, impl)

			execID, err := tr.RecordSkipped(ctx, "run-1", "agent-b", "required dependency agent-a ended failed")
			require.NoError(t, err)

			records, err := tr.Query(ctx, Filter{RunID: "run-1", AgentID: "agent-b"})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, execID, records[0].ID)
			assert.Equal(t, StatusSkipped, records[0].Status)
			assert.Contains(t, records[0].Error, "agent-a")

			// Skipped records are born terminal.
			require.Error(t, tr.RecordTerminal(ctx, execID, StatusSucceeded, nil, ""))
		})
	}
}

func TestTrackerQueryFilters(t *testing.T) {
	for _, impl := range []string{"in-memory", "sqlite"} {
		t.Run(impl, func(t *testing.T) {
			ctx := context.Background()
			tr := trackerUnderTest(t, impl)

			first, err := tr.RecordStart(ctx, "run-1", "agent-a", 1, nil)
			require.NoError(t, err)
			require.NoError(t, tr.RecordTerminal(ctx, first, StatusFailed, nil, "transient"))

			second, err := tr.RecordStart(ctx, "run-1", "agent-a", 2, nil)
			require.NoError(t, err)
			require.NoError(t, tr.RecordTerminal(ctx, second, StatusSucceeded, nil, ""))

			other, err := tr.RecordStart(ctx, "run-2", "agent-b", 1, nil)
			require.NoError(t, err)
			require.NoError(t, tr.RecordTerminal(ctx, other, StatusSucceeded, nil, ""))

			all, err := tr.Query(ctx, Filter{})
			require.NoError(t, err)
			assert.Len(t, all, 3)

			// Retries keep their own records.
			byRun, err := tr.Query(ctx, Filter{RunID: "run-1"})
			require.NoError(t, err)
			require.Len(t, byRun, 2)
			attempts := []int{byRun[0].Attempt, byRun[1].Attempt}
			assert.ElementsMatch(t, []int{1, 2}, attempts)

			failed, err := tr.Query(ctx, Filter{Status: StatusFailed})
			require.NoError(t, err)
			require.Len(t, failed, 1)
			assert.Equal(t, first, failed[0].ID)

			byAgent, err := tr.Query(ctx, Filter{AgentID: "agent-b", RunID: "run-2"})
			require.NoError(t, err)
			require.Len(t, byAgent, 1)
		})
	}
}

func TestInMemoryQueryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	tr := NewInMemoryTracker()

	execID, err := tr.RecordStart(ctx, "run-1", "agent-a", 1, map[string]any{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, tr.RecordTerminal(ctx, execID, StatusSucceeded, map[string]any{"out": "o"}, ""))

	records, err := tr.Query(ctx, Filter{})
	require.NoError(t, err)
	records[0].Input["k"] = "mutated"
	records[0].Output["out"] = "mutated"

	again, err := tr.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, "v", again[0].Input["k"])
	assert.Equal(t, "o", again[0].Output["out"])
}

func TestSQLiteTrackerPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	tr, err := NewSQLiteTracker(ctx, path)
	require.NoError(t, err)
	execID, err := tr.RecordStart(ctx, "run-1", "agent-a", 1, nil)
	require.NoError(t, err)
	require.NoError(t, tr.RecordTerminal(ctx, execID, StatusSucceeded, map[string]any{"text": "kept"}, ""))
	require.NoError(t, tr.Close())

	reopened, err := NewSQLiteTracker(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.Query(ctx, Filter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusSucceeded, records[0].Status)
	assert.Equal(t, "kept", records[0].Output["text"])
}
