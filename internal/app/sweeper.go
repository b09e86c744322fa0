/**
 * @description
 * Cron-driven janitor for the replay-protection registry. Processed-request
 * rows carry a TTL; this sweeper deletes the expired ones on a schedule so
 * the table stays bounded.
 *
 * @dependencies
 * - context, log, time: Standard Go libraries.
 * - github.com/robfig/cron/v3: Cron scheduler.
 * - internal/store: For the repository purge method.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/transfa/issuance-service/internal/store"
)

// Sweeper periodically purges expired processed-request rows.
type Sweeper struct {
	cron     *cron.Cron
	repo     store.Repository
	schedule string
}

// NewSweeper creates a sweeper running on the given cron schedule
// (e.g. "@every 10m").
func NewSweeper(repo store.Repository, schedule string) *Sweeper {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Sweeper{
		cron:     c,
		repo:     repo,
		schedule: schedule,
	}
}

// Start registers the purge job and starts the scheduler.
func (s *Sweeper) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.purgeExpiredRequests); err != nil {
		log.Printf("level=error component=sweeper msg=\"failed to schedule processed-request purge\" schedule=%s err=%v", s.schedule, err)
		return
	}
	s.cron.Start()
	log.Printf("level=info component=sweeper msg=\"scheduled processed-request purge\" schedule=%s", s.schedule)
}

// Stop stops the scheduler and returns a context that is done once any
// running job has finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) purgeExpiredRequests() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	purged, err := s.repo.PurgeExpiredProcessedRequests(ctx)
	if err != nil {
		log.Printf("level=warn component=sweeper msg=\"processed-request purge failed\" err=%v", err)
		return
	}
	if purged > 0 {
		log.Printf("level=info component=sweeper msg=\"purged expired processed requests\" count=%d", purged)
	}
}
