package canbus

import (
	"sync"
	"time"
)

func init() {
	Register("virtual", func(cfg Config) (Driver, error) {
		return NewVirtualBus(), nil
	})
}

// SendRecord captures one virtual transmission with entry/exit
// timestamps, so tests can assert that sends never overlap.
type SendRecord struct {
	Frame Frame
	Enter time.Time
	Exit  time.Time
}

// VirtualBus is an in-memory driver for tests and hardware-free
// simulation. It records every frame it is asked to transmit and can
// inject transmit failures.
type VirtualBus struct {
	mu        sync.Mutex
	records   []SendRecord
	sendCount int
	failEvery int
	holdTime  time.Duration
	closed    bool
}

// NewVirtualBus creates an open virtual bus.
func NewVirtualBus() *VirtualBus {
	return &VirtualBus{}
}

// FailEvery makes the first send and every nth send after it fail with
// ErrVirtualInjected. n <= 0 disables injection.
func (v *VirtualBus) FailEvery(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failEvery = n
	v.sendCount = 0
}

// HoldFor makes each send occupy the bus for d before returning, to
// widen the window in which an interleaved send would be observable.
func (v *VirtualBus) HoldFor(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.holdTime = d
}

// ErrVirtualInjected is returned by sends selected via FailEvery.
var ErrVirtualInjected = virtualError("canbus: injected transmit failure")

type virtualError string

func (e virtualError) Error() string { return string(e) }

func (v *VirtualBus) Send(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrDriverClosed
	}
	n := v.sendCount
	v.sendCount++
	fail := v.failEvery > 0 && n%v.failEvery == 0
	hold := v.holdTime
	v.mu.Unlock()

	if fail {
		return ErrVirtualInjected
	}

	enter := time.Now()
	if hold > 0 {
		time.Sleep(hold)
	}
	exit := time.Now()

	v.mu.Lock()
	v.records = append(v.records, SendRecord{Frame: f, Enter: enter, Exit: exit})
	v.mu.Unlock()
	return nil
}

func (v *VirtualBus) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// Records returns a copy of all successful transmissions so far.
func (v *VirtualBus) Records() []SendRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]SendRecord, len(v.records))
	copy(out, v.records)
	return out
}

// SendCount reports attempts, including failed ones.
func (v *VirtualBus) SendCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sendCount
}
