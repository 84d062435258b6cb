package core

import (
	"context"
	"fmt"
	"time"
)

// PollOptions tunes Stabilize.
type PollOptions struct {
	// Threshold is the number of consecutive unchanged observations
	// required before the count is considered stable.
	Threshold int
	// Delay is the pause between the action and the observation.
	Delay time.Duration
	// Sleep replaces the default context-aware sleep. Used by tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnCount is called with every observed count.
	OnCount func(count int)
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Threshold <= 0 {
		o.Threshold = DefaultStableChecks
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// Stabilize repeats action and observe until the observed count has stayed
// the same for Threshold consecutive rounds, then returns the final count.
//
// Any change resets the streak. The count starts from zero, so a list that
// never loads anything settles after Threshold rounds. Stabilize has no
// timeout of its own; callers bound it through ctx and get the last observed
// count back together with the context error.
func Stabilize(ctx context.Context, action func(context.Context) error, observe func(context.Context) (int, error), opts PollOptions) (int, error) {
	opts = opts.withDefaults()

	last, streak := 0, 0
	for streak < opts.Threshold {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if action != nil {
			if err := action(ctx); err != nil {
				return last, fmt.Errorf("poll action: %w", err)
			}
		}
		if err := opts.Sleep(ctx, opts.Delay); err != nil {
			return last, err
		}

		count, err := observe(ctx)
		if err != nil {
			return last, fmt.Errorf("poll observe: %w", err)
		}
		if opts.OnCount != nil {
			opts.OnCount(count)
		}

		if count == last {
			streak++
		} else {
			streak = 0
			last = count
		}
	}
	return last, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
