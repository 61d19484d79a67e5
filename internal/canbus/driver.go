package canbus

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Config selects and parameterizes a transport driver. Interface names
// the driver kind (the role python-can fills with its interface
// argument); Channel names the device the driver binds to.
type Config struct {
	Channel   string
	Interface string
	Bitrate   int
}

// Driver is a single open transport session. Implementations need not
// be safe for concurrent Send; callers serialize transmissions.
type Driver interface {
	// Send queues one frame for transmission.
	Send(Frame) error

	// Close releases the transport. Further Send calls return an error.
	Close() error
}

// OpenFunc opens a driver session for a validated config.
type OpenFunc func(Config) (Driver, error)

var (
	ErrUnknownInterface = errors.New("canbus: unknown hardware interface")
	ErrDriverClosed     = errors.New("canbus: driver closed")
)

var (
	driversMu sync.RWMutex
	drivers   = map[string]OpenFunc{}
)

// Register makes a driver available under the given interface name.
// Drivers register themselves from init.
func Register(name string, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = open
}

// Open opens a transport session for cfg.Interface.
func Open(cfg Config) (Driver, error) {
	driversMu.RLock()
	open, ok := drivers[cfg.Interface]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInterface, cfg.Interface)
	}
	return open(cfg)
}

// Interfaces lists the registered driver names, sorted.
func Interfaces() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
