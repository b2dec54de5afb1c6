// Package janitor runs the retention schedule: on every due cron tick it
// purges old chat messages and stale low-relevance memory from the store.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/dotsetgreg/streambot/pkg/config"
	"github.com/dotsetgreg/streambot/pkg/store"
)

// Purger is the slice of the conversation store the janitor needs.
type Purger interface {
	PurgeOlderThan(ctx context.Context, maxAge time.Duration, relevanceFloor float64) (store.PurgeResult, error)
}

type Janitor struct {
	cfg    config.RetentionConfig
	purger Purger
	log    *zap.SugaredLogger
	cron   *gronx.Gronx
}

func New(cfg config.RetentionConfig, purger Purger, log *zap.SugaredLogger) (*Janitor, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	g := gronx.New()
	if !g.IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("janitor: invalid retention schedule %q", cfg.Schedule)
	}
	return &Janitor{cfg: cfg, purger: purger, log: log, cron: g}, nil
}

// Run checks the schedule once a minute and purges when it is due. It returns
// when ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := j.cron.IsDue(j.cfg.Schedule, now)
			if err != nil {
				j.log.Errorw("failed to evaluate retention schedule", "schedule", j.cfg.Schedule, "error", err)
				continue
			}
			if !due {
				continue
			}
			if err := j.RunOnce(ctx); err != nil {
				j.log.Errorw("retention purge failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single purge pass with the configured limits.
func (j *Janitor) RunOnce(ctx context.Context) error {
	maxAge := time.Duration(j.cfg.MaxAgeDays) * 24 * time.Hour
	result, err := j.purger.PurgeOlderThan(ctx, maxAge, j.cfg.RelevanceFloor)
	if err != nil {
		return err
	}
	if result.Messages > 0 || result.Memories > 0 {
		j.log.Infow("retention purge complete",
			"messages_deleted", result.Messages,
			"memories_deleted", result.Memories,
			"max_age_days", j.cfg.MaxAgeDays,
			"relevance_floor", j.cfg.RelevanceFloor)
	}
	return nil
}
