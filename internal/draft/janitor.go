package draft

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pitabwire/hibah/internal/observability"
)

// DefaultJanitorSchedule runs a purge every ten minutes.
const DefaultJanitorSchedule = "@every 10m"

// Janitor purges expired drafts on a cron schedule.
type Janitor struct {
	cron    *cron.Cron
	store   Store
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewJanitor schedules purges of store. An empty schedule uses
// DefaultJanitorSchedule. metrics may be nil.
func NewJanitor(store Store, schedule string, loc *time.Location, metrics *observability.Metrics, logger *zap.Logger) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Janitor{
		cron:    cron.New(cron.WithLocation(loc)),
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("draft: schedule janitor %q: %w", schedule, err)
	}
	return j, nil
}

// RunOnce purges expired drafts immediately.
func (j *Janitor) RunOnce(ctx context.Context) int {
	n, err := j.store.Purge(ctx)
	if err != nil {
		j.logger.Error("draft purge failed", zap.Error(err))
		return 0
	}
	j.metrics.RecordDraftsExpired(n)
	if n > 0 {
		j.logger.Info("purged expired drafts", zap.Int("count", n))
	}
	return n
}

// Start begins running the schedule in the background.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running purge to finish or ctx to
// end.
func (j *Janitor) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}
