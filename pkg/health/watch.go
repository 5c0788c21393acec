package health

import (
	"context"

	"github.com/speedrun-hq/tokenrunner/pkg/metrics"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/store"
)

var (
	runStatuses  = []models.RunStatus{models.RunCreated, models.RunActive, models.RunPendingVerification, models.RunCompleted, models.RunFailed}
	itemStatuses = []models.ItemStatus{models.ItemPending, models.ItemSent, models.ItemVerified, models.ItemFailed}
)

// WatchRuns keeps the run gauges in line with every saved run until ctx is done
func WatchRuns(ctx context.Context, runs *store.Runs) {
	ch := make(chan store.Change, 64)
	sub := runs.Subscribe(ch)
	defer sub.Unsubscribe()

	for {
		select {
		case change := <-ch:
			observeRun(change.Run)
		case <-sub.Err():
			return
		case <-ctx.Done():
			return
		}
	}
}

func observeRun(run *models.BatchRun) {
	counts := run.CountByStatus()
	for _, status := range itemStatuses {
		metrics.ItemsByStatus.WithLabelValues(run.ID, string(status)).Set(float64(counts[status]))
	}
	for _, status := range runStatuses {
		v := 0.0
		if run.Status == status {
			v = 1
		}
		metrics.RunStatus.WithLabelValues(run.ID, string(status)).Set(v)
	}
}
