package service

import (
	"context"
	"time"
)

const (
	managementTick = 10 * time.Second
	statusInterval = time.Minute
)

// management performs periodic housekeeping. It never touches the bus.
func (s *Service) management(ctx context.Context) {
	logger := s.logger.With("service", "[MGMT]")
	logger.Info("management activity started")

	ticker := time.NewTicker(managementTick)
	defer ticker.Stop()
	lastStatus := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("management activity stopped")
			return
		case <-ticker.C:
			if time.Since(lastStatus) > statusInterval {
				logger.Info("status",
					"active", s.master.Active(),
					"slaves", s.master.SlaveCount(),
					"clients", s.clients.activeCount())
				lastStatus = time.Now()
			}
		}
	}
}
