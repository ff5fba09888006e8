package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-membership/internal/logger"
)

func testItems(ran *[]string, failOn map[string]error) []Item {
	ids := []string{"event-1", "event-2", "event-3", "event-4"}
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		id := id
		items = append(items, Item{
			ID: id,
			Run: func(ctx context.Context) error {
				*ran = append(*ran, id)
				return failOn[id]
			},
		})
	}
	return items
}

func TestRunnerProcessesAllItems(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "progress.json")
	runner := NewRunner(stateFile, 0, 2, logger.NewLogger())

	var ran []string
	summary, err := runner.Run(context.Background(), "test", testItems(&ran, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"event-1", "event-2", "event-3", "event-4"}, ran)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 4, summary.Counters.Succeeded)
	assert.False(t, summary.Interrupted)
}

func TestRunnerRecordsFailuresAndContinues(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "progress.json")
	runner := NewRunner(stateFile, 0, 2, logger.NewLogger())

	var ran []string
	failures := map[string]error{"event-2": errors.New("boom")}
	summary, err := runner.Run(context.Background(), "test", testItems(&ran, failures))
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 3, summary.Counters.Succeeded)
	assert.Equal(t, 1, summary.Counters.Failed)

	state, err := runner.Status()
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, state.Processed["event-2"])
}

func TestRunnerResumesAfterInterruption(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "progress.json")
	runner := NewRunner(stateFile, 0, 1, logger.NewLogger())

	// First run is cancelled from inside item 2 so items 3 and 4 never run.
	ctx, cancel := context.WithCancel(context.Background())
	var firstRan []string
	items := testItems(&firstRan, nil)
	items[1].Run = func(ctx context.Context) error {
		firstRan = append(firstRan, "event-2")
		cancel()
		return nil
	}

	summary, err := runner.Run(ctx, "test", items)
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, []string{"event-1", "event-2"}, firstRan)

	// Second run picks up only the remaining items.
	var secondRan []string
	summary, err = runner.Run(context.Background(), "test", testItems(&secondRan, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"event-3", "event-4"}, secondRan)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, 4, summary.Counters.Succeeded)
}

func TestRunnerItemCancellationError(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "progress.json")
	runner := NewRunner(stateFile, 0, 1, logger.NewLogger())

	var ran []string
	failures := map[string]error{"event-2": context.Canceled}
	summary, err := runner.Run(context.Background(), "test", testItems(&ran, failures))
	require.NoError(t, err)

	// A cancellation surfacing from an item stops the run without
	// recording the item as failed, so a rerun retries it.
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 0, summary.Counters.Failed)

	state, err := runner.Status()
	require.NoError(t, err)
	assert.False(t, state.IsProcessed("event-2"))
}

func TestRunnerReset(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "progress.json")
	runner := NewRunner(stateFile, 0, 1, logger.NewLogger())

	var ran []string
	_, err := runner.Run(context.Background(), "test", testItems(&ran, nil))
	require.NoError(t, err)
	require.NoError(t, runner.Reset())

	ran = nil
	summary, err := runner.Run(context.Background(), "test", testItems(&ran, nil))
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Processed)
	assert.Len(t, ran, 4)
}
