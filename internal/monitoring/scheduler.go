package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/isdelr/bookshelf-be/internal/models"
	"github.com/isdelr/bookshelf-be/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const pruneTimeout = time.Minute

// Scheduler runs periodic maintenance jobs. Currently it prunes activity
// events older than the retention window.
type Scheduler struct {
	eventSvc  services.EventServiceProvider
	retention time.Duration
	cron      *cron.Cron
	now       func() time.Time
}

// NewScheduler creates a scheduler that prunes events on spec, a standard
// cron expression or descriptor such as "@daily".
func NewScheduler(eventSvc services.EventServiceProvider, spec string, retention time.Duration) (*Scheduler, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	s := &Scheduler{
		eventSvc:  eventSvc,
		retention: retention,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:       time.Now,
	}
	if _, err := s.cron.AddFunc(spec, s.pruneEvents); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	log.Info().Dur("retention", s.retention).Msg("Starting background scheduler...")
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
		log.Info().Msg("Stopping background scheduler.")
	case <-ctx.Done():
		log.Warn().Msg("Background scheduler did not stop in time")
	}
}

// Prune deletes events older than the retention window and returns the count.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	removed, err := s.eventSvc.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Scheduler: Pruned old events")
	return removed, nil
}

func (s *Scheduler) pruneEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	removed, err := s.Prune(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduler: Failed to prune events")
		msg := fmt.Sprintf("Event retention job failed: %v", err)
		if err := s.eventSvc.CreateEvent(ctx, models.EventSystemRetention, services.LevelWarn, msg, nil); err != nil {
			log.Warn().Err(err).Msg("Scheduler: Failed to record retention failure")
		}
		return
	}
	if removed > 0 {
		msg := fmt.Sprintf("Pruned %d events older than %s", removed, s.retention)
		if err := s.eventSvc.CreateEvent(ctx, models.EventSystemRetention, services.LevelInfo, msg, nil); err != nil {
			log.Warn().Err(err).Msg("Scheduler: Failed to record retention result")
		}
	}
}
