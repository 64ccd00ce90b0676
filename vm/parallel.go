package vm

import (
	"context"
	"fmt"
	"runtime"

	"github.com/nijnstein/blast/pkg/bytecode"
	"golang.org/x/sync/errgroup"
)

// ExecuteParallel runs an ssmd package over records split between workers.
// Each worker gets its own Context, seeded from seed and its worker number,
// and its own BatchInterpreter. workers <= 0 means GOMAXPROCS.
func ExecuteParallel(ctx context.Context, pkg *bytecode.Package, records [][]float32, workers int, seed uint64) (Status, error) {
	return NewContext(seed).ExecuteParallel(ctx, pkg, records, workers)
}

// ExecuteParallel runs pkg over records with forks of c. Worker w uses seed
// c.Seed()+w+1, so results do not depend on scheduling.
func (c *Context) ExecuteParallel(ctx context.Context, pkg *bytecode.Package, records [][]float32, workers int) (Status, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if len(records) == 0 {
		return Done, nil
	}
	chunk := (len(records) + workers - 1) / workers
	parts := (len(records) + chunk - 1) / chunk
	statuses := make([]Status, parts)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < parts; w++ {
		lo, hi := w*chunk, min((w+1)*chunk, len(records))
		wctx := c.Fork(c.seed + uint64(w) + 1)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := NewBatchInterpreter().Execute(wctx, pkg, records[lo:hi])
			if err != nil {
				return fmt.Errorf("records %d to %d: %w", lo, hi, err)
			}
			statuses[w] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Done, err
	}

	for _, s := range statuses {
		if s == Yield {
			return Yield, nil
		}
	}
	log.Debugf("ran %d records on %d workers", len(records), parts)
	return Done, nil
}
