package reconcile

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// DefaultSweepConcurrency bounds parallel reconciliations during a sweep.
const DefaultSweepConcurrency = 4

// SweepReport summarizes a multi-customer reconciliation.
type SweepReport struct {
	Total     int
	Succeeded int
	// Failed maps customer ids to the provider or write error of their run.
	Failed map[string]error
}

// ReconcileAll reconciles every customer with at most concurrency runs in
// flight. A failing customer does not stop the others; cancelling ctx stops
// scheduling new runs.
func (r *Reconciler) ReconcileAll(ctx context.Context, customerIDs []string, concurrency int) *SweepReport {
	if concurrency <= 0 {
		concurrency = DefaultSweepConcurrency
	}

	report := &SweepReport{Total: len(customerIDs), Failed: make(map[string]error)}
	var mu sync.Mutex
	record := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed[id] = err
			return
		}
		report.Succeeded++
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, id := range customerIDs {
		if err := ctx.Err(); err != nil {
			record(id, err)
			continue
		}
		g.Go(func() error {
			res, err := r.Reconcile(ctx, id)
			if err == nil {
				err = res.Err()
			}
			record(id, err)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("reconcile: sweep finished",
		billing.F("total", report.Total),
		billing.F("succeeded", report.Succeeded),
		billing.F("failed", len(report.Failed)),
	)
	return report
}

// Sweep reconciles every customer known to the local store.
func (r *Reconciler) Sweep(ctx context.Context, concurrency int) (*SweepReport, error) {
	ids, err := r.store.ListCustomerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customer ids: %w", err)
	}
	return r.ReconcileAll(ctx, ids, concurrency), nil
}
