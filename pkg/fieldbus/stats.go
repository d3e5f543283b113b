package fieldbus

import "sync/atomic"

// TimingStats is a snapshot of the cyclic loop timing counters
type TimingStats struct {
	CyclesTotal  uint32
	CyclesMissed uint32
	TotalTimeUs  uint64
	MinCycleUs   uint32
	MaxCycleUs   uint32
	AvgCycleUs   uint32
	JitterUs     uint32
}

// ErrorStats is a snapshot of the bus error counters
type ErrorStats struct {
	FrameErrors          uint32
	LostFrames           uint32
	WorkingCounterErrors uint32
	SlaveErrors          uint32
	TimeoutErrors        uint32
}

// Idle defaults reported before any cycle has run
const (
	idleAvgCycleUs = 1000
	idleMinCycleUs = 950
	idleMaxCycleUs = 1050
	idleJitterUs   = 25
)

type timingCounters struct {
	cyclesTotal  atomic.Uint32
	cyclesMissed atomic.Uint32
	totalTimeUs  atomic.Uint64
	minCycleUs   atomic.Uint32
	maxCycleUs   atomic.Uint32
}

func (t *timingCounters) record(durationUs uint32) {
	t.cyclesTotal.Add(1)
	t.totalTimeUs.Add(uint64(durationUs))
	for {
		min := t.minCycleUs.Load()
		if min != 0 && durationUs >= min {
			break
		}
		if t.minCycleUs.CompareAndSwap(min, durationUs) {
			break
		}
	}
	for {
		max := t.maxCycleUs.Load()
		if durationUs <= max {
			break
		}
		if t.maxCycleUs.CompareAndSwap(max, durationUs) {
			break
		}
	}
}

func (t *timingCounters) reset() {
	t.cyclesTotal.Store(0)
	t.cyclesMissed.Store(0)
	t.totalTimeUs.Store(0)
	t.minCycleUs.Store(0)
	t.maxCycleUs.Store(0)
}

type errorCounters struct {
	frame          atomic.Uint32
	lostFrames     atomic.Uint32
	workingCounter atomic.Uint32
	slave          atomic.Uint32
	timeout        atomic.Uint32
}

func (e *errorCounters) reset() {
	e.frame.Store(0)
	e.lostFrames.Store(0)
	e.workingCounter.Store(0)
	e.slave.Store(0)
	e.timeout.Store(0)
}

// RecordCycle accounts one completed cycle of the given duration.
// Called by the cyclic activity only.
func (m *Master) RecordCycle(durationUs uint32) {
	m.timing.record(durationUs)
}

// RecordMissedCycles accounts deadline overruns
func (m *Master) RecordMissedCycles(count uint32) {
	m.timing.cyclesMissed.Add(count)
}

// TimingStats returns a snapshot of the timing counters. Before any
// cycle has been recorded the nominal idle figures are reported.
func (m *Master) TimingStats() TimingStats {
	total := m.timing.cyclesTotal.Load()
	if total == 0 {
		return TimingStats{
			CyclesMissed: m.timing.cyclesMissed.Load(),
			AvgCycleUs:   idleAvgCycleUs,
			MinCycleUs:   idleMinCycleUs,
			MaxCycleUs:   idleMaxCycleUs,
			JitterUs:     idleJitterUs,
		}
	}
	stats := TimingStats{
		CyclesTotal:  total,
		CyclesMissed: m.timing.cyclesMissed.Load(),
		TotalTimeUs:  m.timing.totalTimeUs.Load(),
		MinCycleUs:   m.timing.minCycleUs.Load(),
		MaxCycleUs:   m.timing.maxCycleUs.Load(),
	}
	stats.AvgCycleUs = uint32(stats.TotalTimeUs / uint64(total))
	stats.JitterUs = stats.MaxCycleUs - stats.MinCycleUs
	return stats
}

// ErrorStats returns a snapshot of the error counters
func (m *Master) ErrorStats() ErrorStats {
	return ErrorStats{
		FrameErrors:          m.errCounters.frame.Load(),
		LostFrames:           m.errCounters.lostFrames.Load(),
		WorkingCounterErrors: m.errCounters.workingCounter.Load(),
		SlaveErrors:          m.errCounters.slave.Load(),
		TimeoutErrors:        m.errCounters.timeout.Load(),
	}
}

// ResetStats clears both timing and error counters
func (m *Master) ResetStats() {
	m.timing.reset()
	m.errCounters.reset()
}
