package service

import (
	"context"
	"runtime"
	"time"
)

// cyclic drives the bus at the configured fixed period. The deadline
// is absolute and advances by exactly one period per iteration, so a
// long cycle shifts nothing and shows up as a missed deadline instead.
func (s *Service) cyclic(ctx context.Context) {
	logger := s.logger.With("service", "[CYC]")

	// Scheduling attributes apply to the backing OS thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if prio := s.cfg.Performance.RtPriority; prio > 0 {
		if err := setRealtimePriority(prio); err != nil {
			logger.Warn("failed to set real-time priority", "priority", prio, "err", err)
		} else {
			logger.Info("real-time priority set", "priority", prio)
		}
	}
	if cpus := s.cfg.Performance.CpuAffinity; len(cpus) > 0 {
		if err := setCpuAffinity(cpus); err != nil {
			logger.Warn("failed to set cpu affinity", "cpus", cpus, "err", err)
		} else {
			logger.Info("cpu affinity set", "cpus", cpus)
		}
	}

	period := time.Duration(s.cfg.Network.CycleTimeUs) * time.Microsecond
	next := time.Now().Add(period)
	cycles := uint32(0)
	logger.Info("cyclic activity started", "period", period)

	for {
		select {
		case <-ctx.Done():
			logger.Info("cyclic activity stopped", "cycles", cycles)
			return
		default:
		}

		if s.master.Active() {
			start := time.Now()
			if err := s.master.CyclicExchange(); err != nil {
				logger.Debug("cyclic exchange failed", "err", err)
			}
			s.master.RecordCycle(uint32(time.Since(start).Microseconds()))
			cycles++
		}

		next = next.Add(period)
		now := time.Now()
		if now.Before(next) {
			time.Sleep(next.Sub(now))
		} else {
			s.master.RecordMissedCycles(1)
		}
	}
}
