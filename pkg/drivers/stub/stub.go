// Stub fieldbus backend used when no hardware is attached.
// The bus starts with zero slaves and an empty process image, so any
// point PDO access fails while the cyclic path keeps running.
package stub

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	ecatd "github.com/ecatforge/ecatd"
	"github.com/ecatforge/ecatd/pkg/drivers"
)

func init() {
	drivers.RegisterDriver("stub", NewStubDriver)
}

var ErrNotOpen = errors.New("interface is not open")

type Driver struct {
	logger  *slog.Logger
	ifname  string
	open    bool
	state   ecatd.SlaveState
	counter uint32
}

func NewStubDriver(channel string) (ecatd.Driver, error) {
	return &Driver{logger: slog.Default().With("service", "[STUB]")}, nil
}

func (d *Driver) Open(ifname string) error {
	d.ifname = ifname
	d.open = true
	d.state = ecatd.StateInit
	d.logger.Info("opened interface", "interface", ifname)
	return nil
}

func (d *Driver) Close() error {
	d.open = false
	d.state = ecatd.StateNone
	return nil
}

// No hardware, no slaves
func (d *Driver) Enumerate() ([]ecatd.SlaveInfo, error) {
	if !d.open {
		return nil, ErrNotOpen
	}
	return nil, nil
}

func (d *Driver) MapProcessImage() (uint32, uint32, error) {
	if !d.open {
		return 0, 0, ErrNotOpen
	}
	return 0, 0, nil
}

func (d *Driver) RequestState(state ecatd.SlaveState) error {
	if !d.open {
		return ErrNotOpen
	}
	d.state = state
	return nil
}

// State transitions are immediate on the stub
func (d *Driver) CheckState(expected ecatd.SlaveState, timeout time.Duration) (ecatd.SlaveState, error) {
	if !d.open {
		return ecatd.StateNone, ErrNotOpen
	}
	return d.state, nil
}

// Exchange stamps a free running counter into the input image when it
// has room, mimicking live bus traffic.
func (d *Driver) Exchange(output []byte, input []byte) (int, error) {
	if !d.open {
		return -1, ErrNotOpen
	}
	d.counter++
	if len(input) >= 4 {
		binary.BigEndian.PutUint32(input, d.counter)
	}
	return 0, nil
}
