// Package fieldbus implements the bus master : lifecycle state machine,
// slave table, process images, cyclic exchange and point PDO access.
// The concrete bus backend is provided through the [ecatd.Driver]
// capability interface.
package fieldbus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ecatd "github.com/ecatforge/ecatd"
)

var (
	ErrNotInitialized = errors.New("master is not initialized, call Init first")
	ErrAlreadyActive  = errors.New("bus is already active")
	ErrNotActive      = errors.New("bus is not active")
	ErrTooManySlaves  = errors.New("enumerated more slaves than the master supports")
	ErrNotOperational = errors.New("slaves did not reach OPERATIONAL")
	ErrSlaveRange     = errors.New("slave id out of range")
	ErrImageBounds    = errors.New("access outside of process image")
	ErrWorkingCounter = errors.New("working counter indicates a lost frame")
)

const (
	// Upper bound on the slave table
	MaxSlaves = 256
	// Retry budget when driving the bus to OPERATIONAL
	operationalRetries    = 40
	operationalCheckLimit = 50 * time.Millisecond
)

// The Master owns the bus lifecycle and the process images.
// Lifecycle transitions, the cyclic exchange and point PDO accesses
// all hold the write lock : the exchange is a short image copy, so the
// cyclic activity is the sole reader of the output image during a
// transmit and a PDO access never observes a half torn down image.
// Readers of process data accept one cycle of staleness.
type Master struct {
	logger *slog.Logger
	driver ecatd.Driver
	ifname string

	mu          sync.RWMutex
	initialized bool
	active      atomic.Bool
	slaveCount  atomic.Uint32
	slaves      []ecatd.SlaveInfo
	input       []byte
	output      []byte
	inputSize   uint32
	outputSize  uint32

	timing      timingCounters
	errCounters errorCounters
}

func NewMaster(driver ecatd.Driver, logger *slog.Logger) *Master {
	if logger == nil {
		logger = slog.Default()
	}
	return &Master{
		logger: logger.With("service", "[BUS]"),
		driver: driver,
	}
}

// Init records the interface name and readies internal state.
// It never touches the hardware.
func (m *Master) Init(ifname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ifname = ifname
	m.initialized = true
	m.logger.Info("master initialized", "interface", ifname)
	return nil
}

// Start performs the four phase bring-up : open the interface,
// enumerate slaves, map the process image and request SAFE-OPERATIONAL,
// then drive all slaves to OPERATIONAL within a bounded retry budget.
// Any phase failure tears everything back down and leaves the bus
// inactive.
func (m *Master) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	if m.active.Load() {
		return ErrAlreadyActive
	}

	if err := m.driver.Open(m.ifname); err != nil {
		return fmt.Errorf("open %v : %w", m.ifname, err)
	}

	slaves, err := m.driver.Enumerate()
	if err != nil {
		m.teardown()
		return fmt.Errorf("enumerate : %w", err)
	}
	if len(slaves) > MaxSlaves {
		m.teardown()
		return fmt.Errorf("%w : %v", ErrTooManySlaves, len(slaves))
	}
	m.logger.Info("found slaves", "count", len(slaves))

	inputSize, outputSize, err := m.driver.MapProcessImage()
	if err != nil {
		m.teardown()
		return fmt.Errorf("map process image : %w", err)
	}
	if err := m.driver.RequestState(ecatd.StateSafeOp); err != nil {
		m.teardown()
		return fmt.Errorf("request SAFE-OPERATIONAL : %w", err)
	}
	// SAFE-OPERATIONAL is given time to settle but not gated on,
	// the OPERATIONAL polling below is the real gate.
	_, _ = m.driver.CheckState(ecatd.StateSafeOp, 4*operationalCheckLimit)

	m.input = make([]byte, inputSize)
	m.output = make([]byte, outputSize)
	m.inputSize = inputSize
	m.outputSize = outputSize

	if err := m.driver.RequestState(ecatd.StateOperational); err != nil {
		m.teardown()
		return fmt.Errorf("request OPERATIONAL : %w", err)
	}

	state := ecatd.StateNone
	for try := 0; try < operationalRetries; try++ {
		_, _ = m.driver.Exchange(m.output, m.input)
		state, _ = m.driver.CheckState(ecatd.StateOperational, operationalCheckLimit)
		if state == ecatd.StateOperational {
			break
		}
	}
	if state != ecatd.StateOperational {
		m.teardown()
		return ErrNotOperational
	}

	m.slaves = slaves
	m.slaveCount.Store(uint32(len(slaves)))
	m.active.Store(true)
	m.logger.Info("bus operational", "slaves", len(slaves),
		"input_bytes", inputSize, "output_bytes", outputSize)
	return nil
}

// Stop transitions the bus back to inactive : slaves are requested to
// SAFE-OPERATIONAL then INIT, the interface is closed and the process
// images are released. Stopping an inactive bus is a no-op.
func (m *Master) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active.Load() {
		return nil
	}
	m.active.Store(false)

	if err := m.driver.RequestState(ecatd.StateSafeOp); err != nil {
		m.logger.Warn("request SAFE-OPERATIONAL failed on stop", "err", err)
	}
	if err := m.driver.RequestState(ecatd.StateInit); err != nil {
		m.logger.Warn("request INIT failed on stop", "err", err)
	}
	m.teardown()
	m.logger.Info("bus stopped")
	return nil
}

// Close stops the bus and returns the master to its uninitialized
// terminal state
func (m *Master) Close() error {
	err := m.Stop()
	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()
	return err
}

// teardown releases every bus resource. Callers hold the write lock.
func (m *Master) teardown() {
	if err := m.driver.Close(); err != nil {
		m.logger.Warn("driver close failed", "err", err)
	}
	m.input = nil
	m.output = nil
	m.inputSize = 0
	m.outputSize = 0
	m.slaves = nil
	m.slaveCount.Store(0)
}

// Active reports whether the bus is exchanging process data
func (m *Master) Active() bool {
	return m.active.Load()
}

// SlaveCount returns the number of slaves of the running bus, zero
// while the bus is inactive
func (m *Master) SlaveCount() uint32 {
	return m.slaveCount.Load()
}

// Slave returns the table entry at the given zero based index
func (m *Master) Slave(index uint32) (ecatd.SlaveInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index >= uint32(len(m.slaves)) {
		return ecatd.SlaveInfo{}, false
	}
	return m.slaves[index], true
}

// Scan returns the cached slave count. The bus is not re-enumerated
// while active.
// TODO : a true rescan would require cycling through INIT, decide once
// an operator actually needs it.
func (m *Master) Scan() (uint32, error) {
	return m.slaveCount.Load(), nil
}

// InputSize returns the mapped input image size in bytes
func (m *Master) InputSize() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inputSize
}

// OutputSize returns the mapped output image size in bytes
func (m *Master) OutputSize() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outputSize
}

// CyclicExchange sends the output image and receives a fresh input
// image. Must only be called from the cyclic activity while the bus is
// active. A driver error or a negative working counter is counted as a
// working counter error.
func (m *Master) CyclicExchange() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active.Load() {
		return ErrNotActive
	}
	wkc, err := m.driver.Exchange(m.output, m.input)
	if err != nil {
		m.errCounters.workingCounter.Add(1)
		return err
	}
	if wkc < 0 {
		m.errCounters.workingCounter.Add(1)
		return ErrWorkingCounter
	}
	return nil
}

// ReadPdo copies min(size, 4) bytes from the input image at the given
// offset into a big-endian value. Bounds are checked against the full
// requested size.
func (m *Master) ReadPdo(slave uint32, offset uint32, size uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active.Load() {
		return 0, ErrNotActive
	}
	if slave == 0 || slave > m.slaveCount.Load() {
		return 0, ErrSlaveRange
	}
	if offset > m.inputSize || size > m.inputSize-offset {
		return 0, ErrImageBounds
	}
	n := size
	if n > 4 {
		n = 4
	}
	var value uint32
	for _, b := range m.input[offset : offset+n] {
		value = value<<8 | uint32(b)
	}
	return value, nil
}

// WritePdo stores min(size, 4) big-endian bytes of value into the
// output image at the given offset. The write becomes visible on the
// wire on the next cyclic exchange.
func (m *Master) WritePdo(slave uint32, offset uint32, size uint32, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active.Load() {
		return ErrNotActive
	}
	if slave == 0 || slave > m.slaveCount.Load() {
		return ErrSlaveRange
	}
	if offset > m.outputSize || size > m.outputSize-offset {
		return ErrImageBounds
	}
	n := size
	if n > 4 {
		n = 4
	}
	for i := uint32(0); i < n; i++ {
		m.output[offset+i] = byte(value >> (8 * (n - 1 - i)))
	}
	return nil
}
