package syncer

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs due-account syncs on a fixed cron tick. Each tick asks the
// service which accounts have passed their sync interval; the per-account
// frequency lives in the sync metadata, not here.
type Scheduler struct {
	service *Service
	cron    *cron.Cron
	timeout time.Duration
}

// NewScheduler creates a scheduler over the sync service. timeout caps one
// full tick.
func NewScheduler(service *Service, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		service: service,
		cron:    cron.New(),
		timeout: timeout,
	}
}

// Start begins the tick loop. It returns after scheduling; ticks run on the
// cron's own goroutine.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("* * * * *", s.tick)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the tick loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.service.SyncDue(ctx); err != nil {
		log.Printf("syncer: scheduled sync: %v", err)
	}
}
