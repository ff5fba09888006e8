package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-membership/internal/logger"
)

// Item is one unit of work in a run. Items are independent: a failure
// is recorded and the run moves on.
type Item struct {
	ID  string
	Run func(ctx context.Context) error
}

// Summary is what a finished (or interrupted) run reports.
type Summary struct {
	Total     int      `json:"total"`
	Processed int      `json:"processed"`
	Counters  Counters `json:"counters"`
	// Interrupted is set when the run stopped on cancellation with
	// work remaining. The state file allows a clean resume.
	Interrupted bool `json:"interrupted"`
}

// Runner drives a large ordered collection of items sequentially with
// durable progress, graceful interruption and resume. The remaining
// work set is always "all items minus processed ids", never a numeric
// offset, so resume stays correct if the collection changed between
// runs.
type Runner struct {
	StateFile string
	// Delay between items; keeps pressure off the external API.
	ItemDelay time.Duration
	// Progress is persisted every PersistEvery items and at the end.
	PersistEvery int
	Logger       *logger.Logger
}

func NewRunner(stateFile string, itemDelay time.Duration, persistEvery int, log *logger.Logger) *Runner {
	if persistEvery <= 0 {
		persistEvery = 5
	}
	return &Runner{
		StateFile:    stateFile,
		ItemDelay:    itemDelay,
		PersistEvery: persistEvery,
		Logger:       log,
	}
}

// Run processes items in order, skipping ones the state file already
// records. Cancellation is cooperative: the in-flight item finishes,
// state is persisted, and the run returns with Interrupted set.
func (r *Runner) Run(ctx context.Context, jobName string, items []Item) (*Summary, error) {
	state, err := LoadState(r.StateFile)
	if err != nil {
		return nil, fmt.Errorf("load progress state: %w", err)
	}

	summary := &Summary{Total: len(items)}

	remaining := 0
	for _, item := range items {
		if !state.IsProcessed(item.ID) {
			remaining++
		}
	}
	r.Logger.LogJob(jobName, fmt.Sprintf("%d items total, %d already processed, %d remaining", len(items), len(items)-remaining, remaining))

	sinceSave := 0
	for _, item := range items {
		if state.IsProcessed(item.ID) {
			continue
		}

		// Cooperative cancellation point, checked between items only.
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		if err := item.Run(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				summary.Interrupted = true
				break
			}
			state.Record(item.ID, OutcomeFailed)
			r.Logger.Error("JOB", fmt.Sprintf("[%s] item %s failed: %v", jobName, item.ID, err))
		} else {
			state.Record(item.ID, OutcomeSucceeded)
		}
		summary.Processed++
		sinceSave++

		if sinceSave >= r.PersistEvery {
			if err := state.Save(r.StateFile); err != nil {
				return summary, fmt.Errorf("persist progress: %w", err)
			}
			sinceSave = 0
		}

		if r.ItemDelay > 0 {
			select {
			case <-ctx.Done():
				summary.Interrupted = true
			case <-time.After(r.ItemDelay):
			}
			if summary.Interrupted {
				break
			}
		}
	}

	if err := state.Save(r.StateFile); err != nil {
		return summary, fmt.Errorf("persist final progress: %w", err)
	}

	summary.Counters = state.Counters
	if summary.Interrupted {
		r.Logger.LogJob(jobName, fmt.Sprintf("interrupted after %d items, state saved to %s", summary.Processed, r.StateFile))
	} else {
		r.Logger.LogJob(jobName, fmt.Sprintf("finished: %d succeeded, %d failed, %d skipped", state.Counters.Succeeded, state.Counters.Failed, state.Counters.Skipped))
	}
	return summary, nil
}

// Status loads and returns the current progress record without doing
// any work.
func (r *Runner) Status() (*ProgressState, error) {
	return LoadState(r.StateFile)
}

// Reset discards the progress record.
func (r *Runner) Reset() error {
	return Reset(r.StateFile)
}
