// Package drivers holds the registry of fieldbus backend drivers.
package drivers

import (
	"fmt"

	ecatd "github.com/ecatforge/ecatd"
)

type NewDriverFunc func(channel string) (ecatd.Driver, error)

var AvailableDrivers = make(map[string]NewDriverFunc)
var ImplementedDrivers = []string{
	"stub",
	"loopback",
}

// Register a new fieldbus driver type
// This should be called inside an init() function of the backend
func RegisterDriver(driverType string, newDriver NewDriverFunc) {
	AvailableDrivers[driverType] = newDriver
}

// Create a new driver with the given backend name.
// The channel argument is backend specific, e.g. a simulated slave
// layout for the loopback backend.
func NewDriver(driverType string, channel string) (ecatd.Driver, error) {
	createDriver, ok := AvailableDrivers[driverType]
	if !ok {
		return nil, fmt.Errorf("unsupported driver : %v (implemented : %v)", driverType, ImplementedDrivers)
	}
	return createDriver(channel)
}
