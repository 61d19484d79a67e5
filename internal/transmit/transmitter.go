package transmit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Sender is the bus surface a transmitter needs: one serialized send
// and a way to see whether the bus is open.
type Sender interface {
	Send(id uint32, data []byte, extended bool) error
	IsOpen() bool
}

// Outcome classifies one send attempt.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeSendFailed Outcome = "sendFailed"
	OutcomeBusClosed  Outcome = "busNotInitialized"
)

// Reporter receives exactly one event per send attempt, for operator
// visibility. The error is nil for OutcomeSent.
type Reporter interface {
	Report(id uint32, outcome Outcome, err error)
}

// State is the transmitter lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// How long to wait before re-checking a bus that is not open.
const busRetryDelay = time.Second

// Transmitter repeats one message at its cycle time until stopped. It
// holds a non-owning reference to the shared bus; spec updates take
// effect on the very next tick without a restart.
type Transmitter struct {
	bus Sender
	rep Reporter

	spec atomic.Value // MessageSpec, captured at tick time

	state    int32
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an idle transmitter. The caller is responsible for
// having validated the spec.
func New(spec MessageSpec, bus Sender, rep Reporter) *Transmitter {
	t := &Transmitter{
		bus:  bus,
		rep:  rep,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	t.spec.Store(spec)
	return t
}

// Spec returns the current message definition.
func (t *Transmitter) Spec() MessageSpec {
	return t.spec.Load().(MessageSpec)
}

// Update replaces payload, cycle time and id-type in place. The next
// tick sees the new values; the cycle is not restarted, so there is no
// transmission gap.
func (t *Transmitter) Update(spec MessageSpec) {
	t.spec.Store(spec)
}

// State returns the lifecycle state.
func (t *Transmitter) State() State {
	return State(atomic.LoadInt32(&t.state))
}

// Start begins the repeating cycle. Only the first call on an idle
// transmitter has any effect.
func (t *Transmitter) Start() {
	if !atomic.CompareAndSwapInt32(&t.state, int32(StateIdle), int32(StateRunning)) {
		return
	}
	go t.run()
}

// Stop signals the cycle to end and blocks until the goroutine has
// fully exited: no further sends occur after Stop returns. Idempotent,
// and a no-op on a transmitter that was never started.
func (t *Transmitter) Stop() {
	if atomic.CompareAndSwapInt32(&t.state, int32(StateIdle), int32(StateStopped)) {
		return
	}
	atomic.CompareAndSwapInt32(&t.state, int32(StateRunning), int32(StateStopping))
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Transmitter) run() {
	defer func() {
		atomic.StoreInt32(&t.state, int32(StateStopped))
		close(t.done)
	}()

	for {
		spec := t.Spec()
		wait := spec.CycleTime

		if t.bus == nil || !t.bus.IsOpen() {
			// Self-healing retry: the bus may be (re)opened later.
			logrus.WithField("id", spec.IDString()).Warn("CAN bus is not initialized")
			t.report(spec.ID, OutcomeBusClosed, nil)
			wait = busRetryDelay
		} else if err := t.bus.Send(spec.ID, spec.Data, spec.Extended); err != nil {
			logrus.WithFields(logrus.Fields{
				"id":  spec.IDString(),
				"err": err,
			}).Warn("CAN transmission error")
			t.report(spec.ID, OutcomeSendFailed, err)
		} else {
			t.report(spec.ID, OutcomeSent, nil)
		}

		// Interruptible wait: stop cuts the cycle short, bounding
		// shutdown latency to at most one cycle period.
		timer := time.NewTimer(wait)
		select {
		case <-t.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (t *Transmitter) report(id uint32, outcome Outcome, err error) {
	if t.rep != nil {
		t.rep.Report(id, outcome, err)
	}
}
