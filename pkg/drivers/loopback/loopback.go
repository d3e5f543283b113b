// Loopback fieldbus backend primarily used for testing.
// It carries a configurable set of simulated slaves with real process
// data areas : every output byte written by the master is echoed back
// into the input image on the next exchange, so a full service can be
// exercised without hardware.
package loopback

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	ecatd "github.com/ecatforge/ecatd"
	"github.com/ecatforge/ecatd/pkg/drivers"
)

func init() {
	drivers.RegisterDriver("loopback", NewLoopbackDriver)
}

const defaultSlaveBytes = 8

var ErrNotOpen = errors.New("interface is not open")

type Driver struct {
	logger *slog.Logger
	mu     sync.Mutex
	ifname string
	open   bool
	state  ecatd.SlaveState
	slaves []ecatd.SlaveInfo
	// retained images, lent back to the master byte by byte
	outputs []byte
	inputs  []byte
	cycles  uint32
}

// The channel encodes the number of simulated slaves, each with an
// 8 byte input and output area. Empty means one slave.
func NewLoopbackDriver(channel string) (ecatd.Driver, error) {
	count := 1
	if channel != "" {
		parsed, err := strconv.Atoi(channel)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("invalid loopback channel %q, expecting a slave count", channel)
		}
		count = parsed
	}
	slaves := make([]ecatd.SlaveInfo, count)
	for i := range slaves {
		slaves[i] = ecatd.SlaveInfo{
			Id:          uint32(i + 1),
			Name:        fmt.Sprintf("simulated slave %d", i+1),
			VendorId:    0x0000ECA7,
			ProductCode: uint32(0x1000 + i),
			Online:      true,
			InputBytes:  defaultSlaveBytes,
			OutputBytes: defaultSlaveBytes,
		}
	}
	return NewWithSlaves(slaves), nil
}

// NewWithSlaves creates a loopback bus with an explicit slave layout
func NewWithSlaves(slaves []ecatd.SlaveInfo) *Driver {
	return &Driver{
		logger: slog.Default().With("service", "[LOOP]"),
		slaves: slaves,
	}
}

func (d *Driver) Open(ifname string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ifname = ifname
	d.open = true
	d.state = ecatd.StateInit
	d.logger.Info("opened interface", "interface", ifname, "slaves", len(d.slaves))
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.state = ecatd.StateNone
	d.outputs = nil
	d.inputs = nil
	return nil
}

func (d *Driver) Enumerate() ([]ecatd.SlaveInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, ErrNotOpen
	}
	slaves := make([]ecatd.SlaveInfo, len(d.slaves))
	copy(slaves, d.slaves)
	return slaves, nil
}

func (d *Driver) MapProcessImage() (uint32, uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return 0, 0, ErrNotOpen
	}
	var inputSize, outputSize uint32
	for _, slave := range d.slaves {
		inputSize += slave.InputBytes
		outputSize += slave.OutputBytes
	}
	d.inputs = make([]byte, inputSize)
	d.outputs = make([]byte, outputSize)
	return inputSize, outputSize, nil
}

func (d *Driver) RequestState(state ecatd.SlaveState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrNotOpen
	}
	d.state = state
	return nil
}

func (d *Driver) CheckState(expected ecatd.SlaveState, timeout time.Duration) (ecatd.SlaveState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ecatd.StateNone, ErrNotOpen
	}
	return d.state, nil
}

// Exchange latches the output image and echoes it back as the next
// input image. Working counter is the number of simulated slaves.
func (d *Driver) Exchange(output []byte, input []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return -1, ErrNotOpen
	}
	d.cycles++
	copy(d.outputs, output)
	copy(d.inputs, d.outputs)
	copy(input, d.inputs)
	return len(d.slaves), nil
}

// Outputs returns a copy of the output image as last seen on the bus
func (d *Driver) Outputs() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	outputs := make([]byte, len(d.outputs))
	copy(outputs, d.outputs)
	return outputs
}

// Cycles returns the number of exchanges performed
func (d *Driver) Cycles() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}
