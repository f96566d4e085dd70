// Package executor runs a pipeline stage over a batch of items with a
// bounded level of concurrency. Item failures are captured as results,
// not propagated as errors: a stage always drains, producing exactly one
// result per input.
package executor

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// Item is anything that can be run through a stage. The ID ties a result
// back to its input for logging and failure reporting.
type Item interface {
	ID() string
}

// Result pairs one input item with its outcome. Exactly one of Output or
// Err is meaningful.
type Result[O any] struct {
	ItemID string
	Output O
	Err    error
}

// Failed reports whether this item failed.
func (r Result[O]) Failed() bool { return r.Err != nil }

// Run applies op to every item with at most limit operations in flight.
// It returns one Result per input, in input order, and never fails as a
// whole: per-item errors land in their Result. Limits below 1 are treated
// as 1.
//
// If ctx is cancelled, in-flight operations are interrupted through their
// own ctx and items not yet started are marked failed with the context
// error. Run still returns a full result set.
func Run[I Item, O any](ctx context.Context, items []I, limit int, op func(context.Context, I) (O, error)) []Result[O] {
	if limit < 1 {
		limit = 1
	}

	results := make([]Result[O], len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, item := range items {
		results[i].ItemID = item.ID()
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = eris.Wrap(err, "executor: item not started")
				return nil
			}
			out, err := safeOp(gctx, item, op)
			results[i].Output = out
			results[i].Err = err
			return nil
		})
	}

	// Goroutines never return errors, so Wait only blocks for drain.
	_ = g.Wait()

	return results
}

// safeOp invokes op and converts a panic into a per-item error so a bad
// item cannot take down the whole stage.
func safeOp[I Item, O any](ctx context.Context, item I, op func(context.Context, I) (O, error)) (out O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.New(fmt.Sprintf("executor: panic processing %s: %v", item.ID(), r))
		}
	}()
	return op(ctx, item)
}

// Succeeded collects the outputs of all successful results, preserving
// input order.
func Succeeded[O any](results []Result[O]) []O {
	out := make([]O, 0, len(results))
	for _, r := range results {
		if !r.Failed() {
			out = append(out, r.Output)
		}
	}
	return out
}

// Counts tallies a drained result set.
func Counts[O any](results []Result[O]) (succeeded, failed int) {
	for _, r := range results {
		if r.Failed() {
			failed++
		} else {
			succeeded++
		}
	}
	return succeeded, failed
}

// FailureKinds classifies each failed result with the given classifier
// and returns the frequency of each kind.
func FailureKinds[O any](results []Result[O], classify func(error) string) map[string]int {
	kinds := make(map[string]int)
	for _, r := range results {
		if r.Failed() {
			kinds[classify(r.Err)]++
		}
	}
	return kinds
}
