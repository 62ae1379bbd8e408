package batch

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/popradius/internal/query"
)

// Runner executes one query. *query.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req query.Request) query.Outcome
}

// Row pairs an input item with its outcome.
type Row struct {
	Item    Item
	Outcome query.Outcome
}

// Summary counts outcomes by status.
type Summary struct {
	OK          int64
	Unavailable int64
	Invalid     int64
}

// Run queries every item with at most concurrency in flight. Rows come back
// in input order. A failing item never aborts the batch.
func Run(ctx context.Context, runner Runner, items []Item, concurrency int) ([]Row, Summary) {
	if concurrency <= 0 {
		concurrency = 1
	}
	log := zap.L().With(zap.String("component", "batch"))
	start := time.Now()

	rows := make([]Row, len(items))
	var ok, unavailable, invalid atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, it := range items {
		g.Go(func() error {
			var out query.Outcome
			if it.ParseErr != nil {
				out = query.Outcome{ID: it.ID, Status: query.StatusInvalidInput, Reason: it.ParseErr.Error()}
			} else {
				out = runner.Run(gctx, it.Request)
			}

			switch out.Status {
			case query.StatusOK:
				ok.Add(1)
			case query.StatusInvalidInput:
				invalid.Add(1)
				log.Warn("batch: invalid row", zap.String("id", it.ID), zap.Int("line", it.Line), zap.String("reason", out.Reason))
			default:
				unavailable.Add(1)
			}
			rows[i] = Row{Item: it, Outcome: out}
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{OK: ok.Load(), Unavailable: unavailable.Load(), Invalid: invalid.Load()}
	log.Info("batch: complete",
		zap.Int("total", len(items)),
		zap.Int64("ok", sum.OK),
		zap.Int64("unavailable", sum.Unavailable),
		zap.Int64("invalid", sum.Invalid),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rows, sum
}
