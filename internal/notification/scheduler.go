package notification

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler runs the two periodic duties: dispatching due scheduled
// notifications and sweeping expired or aged-out ones. Both operate on
// status-filtered queries plus per-document transitions, so overlapping runs
// are harmless.
type Scheduler struct {
	service       *Service
	logger        *zap.Logger
	scanInterval  time.Duration
	sweepInterval time.Duration
}

// NewScheduler creates the notification scheduler.
func NewScheduler(service *Service, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		service:       service,
		logger:        logger,
		scanInterval:  time.Minute,
		sweepInterval: time.Hour,
	}
}

// Start hooks the background loops into the fx lifecycle.
func (s *Scheduler) Start(lc fx.Lifecycle) {
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.logger.Info("starting notification scheduler",
				zap.Duration("scan_interval", s.scanInterval),
				zap.Duration("sweep_interval", s.sweepInterval))
			go s.run(done)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.logger.Info("stopping notification scheduler")
			close(done)
			return nil
		},
	})
}

func (s *Scheduler) run(done <-chan struct{}) {
	scan := time.NewTicker(s.scanInterval)
	sweep := time.NewTicker(s.sweepInterval)
	defer scan.Stop()
	defer sweep.Stop()

	ctx := context.Background()
	for {
		select {
		case <-scan.C:
			s.service.ProcessScheduled(ctx)
		case <-sweep.C:
			deleted, err := s.service.CleanupExpired(ctx)
			if err != nil {
				s.logger.Error("retention sweep failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				s.logger.Info("retention sweep removed notifications",
					zap.Int64("deleted", deleted))
			}
		case <-done:
			return
		}
	}
}
