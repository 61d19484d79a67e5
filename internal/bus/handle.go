package bus

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/harshalekkalaarjun/multi-can-sim/internal/canbus"
)

// Info describes the currently open transport session.
type Info struct {
	Channel   string `json:"channel"`
	Interface string `json:"interface"`
	Bitrate   int    `json:"bitrate"`
}

// Handle wraps one open transport session. All sends serialize through
// a single mutex so physical transmissions never interleave, no matter
// how many transmitters share the handle.
type Handle struct {
	open canbus.OpenFunc

	sendMu sync.Mutex // serializes physical transmissions

	mu   sync.Mutex // guards drv and info
	drv  canbus.Driver
	info Info
}

// NewHandle creates a closed handle backed by the driver registry.
func NewHandle() *Handle {
	return NewHandleWithOpener(canbus.Open)
}

// NewHandleWithOpener creates a closed handle with a custom driver
// opener. Tests use this to inject a virtual bus.
func NewHandleWithOpener(open canbus.OpenFunc) *Handle {
	return &Handle{open: open}
}

// Open opens the transport session. Idempotent: if the handle is
// already open it returns nil without reinitializing, regardless of
// the parameters passed.
func (h *Handle) Open(channel, iface string, bitrate int) error {
	if channel == "" {
		return wrap(ErrInvalidChannel, "open", errors.New("empty channel"))
	}
	if iface == "" {
		return wrap(ErrInvalidConfig, "open", errors.New("empty hardware interface"))
	}
	if bitrate <= 0 {
		return wrap(ErrInvalidConfig, "open", errors.New("bitrate must be positive"))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.drv != nil {
		return nil
	}

	cfg := canbus.Config{Channel: channel, Interface: iface, Bitrate: bitrate}
	drv, err := h.open(cfg)
	if err != nil {
		if errors.Is(err, canbus.ErrUnknownInterface) {
			return wrap(ErrInvalidConfig, "open", err)
		}
		return wrap(ErrDriverFailure, "open", err)
	}

	h.drv = drv
	h.info = Info{Channel: channel, Interface: iface, Bitrate: bitrate}
	logrus.WithFields(logrus.Fields{
		"channel":   channel,
		"interface": iface,
		"bitrate":   bitrate,
	}).Info("CAN bus opened")
	return nil
}

// Send transmits one frame. Concurrent callers are serialized; only
// one transmission is in flight at a time across all transmitters.
func (h *Handle) Send(id uint32, data []byte, extended bool) error {
	frame, err := canbus.NewFrame(id, data, extended)
	if err != nil {
		return wrap(ErrTransmitFailure, "send", err)
	}

	h.mu.Lock()
	drv := h.drv
	h.mu.Unlock()
	if drv == nil {
		return wrap(ErrBusClosed, "send", nil)
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if err := drv.Send(frame); err != nil {
		return wrap(ErrTransmitFailure, "send", err)
	}
	return nil
}

// Close releases the transport. Safe to call when already closed.
// After Close, sends fail with ErrBusClosed until Open succeeds again.
func (h *Handle) Close() error {
	h.mu.Lock()
	drv := h.drv
	h.drv = nil
	info := h.info
	h.info = Info{}
	h.mu.Unlock()

	if drv == nil {
		return nil
	}
	if err := drv.Close(); err != nil {
		return wrap(ErrDriverFailure, "close", err)
	}
	logrus.WithField("channel", info.Channel).Info("CAN bus closed")
	return nil
}

// IsOpen reports whether a transport session is open.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drv != nil
}

// Info returns the open session parameters, and whether one is open.
func (h *Handle) Info() (Info, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info, h.drv != nil
}
