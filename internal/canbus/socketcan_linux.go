//go:build linux

package canbus

import (
	"github.com/brutella/can"
)

// SocketCAN can_id flag bits.
const (
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
)

func init() {
	Register("socketcan", openSocketCAN)
}

// socketcanDriver transmits over a Linux SocketCAN netdev. The bitrate
// is configured on the link (ip link set ... type can bitrate N), not
// from here; the requested value is only recorded.
type socketcanDriver struct {
	bus *can.Bus
}

func openSocketCAN(cfg Config) (Driver, error) {
	bus, err := can.NewBusForInterfaceWithName(cfg.Channel)
	if err != nil {
		return nil, err
	}
	return &socketcanDriver{bus: bus}, nil
}

func (d *socketcanDriver) Send(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	return d.bus.Publish(can.Frame{
		ID:     id,
		Length: f.Len,
		Data:   f.Data,
	})
}

func (d *socketcanDriver) Close() error {
	return d.bus.Disconnect()
}
