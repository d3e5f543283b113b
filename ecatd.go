// Package ecatd provides the building blocks of an EtherCAT service :
// a driver capability interface for bus backends, the fieldbus master
// built on top of it, a binary UDP control protocol and the service
// kernel tying them together.
package ecatd

import "time"

// Slave state milestones of the standard bring-up sequence
type SlaveState uint8

const (
	StateNone        SlaveState = 0
	StateInit        SlaveState = 1
	StatePreOp       SlaveState = 2
	StateSafeOp      SlaveState = 4
	StateOperational SlaveState = 8
)

func (s SlaveState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePreOp:
		return "PRE-OPERATIONAL"
	case StateSafeOp:
		return "SAFE-OPERATIONAL"
	case StateOperational:
		return "OPERATIONAL"
	default:
		return "NONE"
	}
}

// SlaveInfo describes one enumerated slave on the bus
type SlaveInfo struct {
	Id          uint32
	Name        string
	VendorId    uint32
	ProductCode uint32
	Online      bool
	InputBytes  uint32
	OutputBytes uint32
}

// A fieldbus Driver interface
// This is the capability set any bus backend must provide.
// The master owns the process images and lends them to the driver
// for the duration of a single Exchange call.
type Driver interface {
	Open(ifname string) error                                         // Open the bus interface
	Close() error                                                     // Close the bus interface
	Enumerate() ([]SlaveInfo, error)                                  // Enumerate slaves on the bus
	MapProcessImage() (inputSize uint32, outputSize uint32, err error) // Map the cyclic process image
	RequestState(state SlaveState) error                              // Request a state for all slaves
	CheckState(expected SlaveState, timeout time.Duration) (SlaveState, error)
	Exchange(output []byte, input []byte) (wkc int, err error) // One cyclic exchange, returns working counter
}
