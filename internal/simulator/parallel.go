package simulator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// enumerateParallel splits [0, total) into one contiguous chunk per worker.
// Workers write only to their own accumulator; the reduction runs after Wait
// in worker order.
func enumerateParallel(ctx context.Context, probs, mass []float64, total uint64, workers int) ([]float64, uint64, error) {
	n := len(probs)
	partials := make([][]float64, workers)
	counts := make([]uint64, workers)
	chunk := (total + uint64(workers) - 1) / uint64(workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		lo := uint64(w) * chunk
		hi := min(lo+chunk, total)
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			acc := make([]float64, n)
			processed, err := enumerateRange(gctx, probs, mass, lo, hi, acc)
			partials[w] = acc
			counts[w] = processed
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	ev := make([]float64, n)
	var processed uint64
	for w, acc := range partials {
		for j, v := range acc {
			ev[j] += v
		}
		processed += counts[w]
	}
	return ev, processed, nil
}
