package quote

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper expires stale quotes on a fixed interval.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{service: service, interval: interval, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("quote sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("quote sweeper stopped")
			return nil
		case <-ticker.C:
			n, err := s.service.ExpireStale(ctx, s.service.engine.Now())
			if err != nil {
				s.logger.Error("quote sweep failed", "err", err, "expired", n)
				continue
			}
			if n > 0 {
				s.logger.Info("quote sweep", "expired", n)
			}
		}
	}
}
