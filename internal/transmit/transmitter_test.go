package transmit

import (
	"sync"
	"testing"
	"time"

	"github.com/harshalekkalaarjun/multi-can-sim/internal/bus"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/canbus"
)

// recorder collects per-attempt outcomes for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Outcome
}

func (r *recorder) Report(id uint32, outcome Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, outcome)
}

func (r *recorder) snapshot() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.events))
	copy(out, r.events)
	return out
}

// waitFor blocks until at least n outcomes were reported.
func (r *recorder) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(r.snapshot()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(r.snapshot()))
}

func openVirtualHandle(t *testing.T) (*bus.Handle, *canbus.VirtualBus) {
	t.Helper()
	v := canbus.NewVirtualBus()
	h := bus.NewHandleWithOpener(func(cfg canbus.Config) (canbus.Driver, error) {
		return v, nil
	})
	if err := h.Open("sim0", "virtual", 500000); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return h, v
}

func TestCycleTiming(t *testing.T) {
	h, v := openVirtualHandle(t)
	rec := &recorder{}

	tx := New(MessageSpec{ID: 0x100, Data: []byte{0x01, 0x02}, CycleTime: 100 * time.Millisecond}, h, rec)
	tx.Start()
	time.Sleep(950 * time.Millisecond)
	tx.Stop()

	n := len(v.Records())
	if n < 8 || n > 10 {
		t.Fatalf("recorded %d sends in 950ms at 100ms cycle, want 8..10", n)
	}
	for _, r := range v.Records() {
		if r.Frame.ID != 0x100 || r.Frame.Len != 2 {
			t.Fatalf("unexpected frame on bus: %v", r.Frame)
		}
	}
}

func TestStopIdempotent(t *testing.T) {
	h, _ := openVirtualHandle(t)
	tx := New(MessageSpec{ID: 0x1, CycleTime: 10 * time.Millisecond}, h, nil)
	tx.Start()

	done := make(chan struct{})
	go func() {
		tx.Stop()
		tx.Stop()
		tx.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("repeated Stop() blocked")
	}
	if tx.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped", tx.State())
	}
}

func TestStopNeverStarted(t *testing.T) {
	h, _ := openVirtualHandle(t)
	tx := New(MessageSpec{ID: 0x1, CycleTime: 10 * time.Millisecond}, h, nil)

	done := make(chan struct{})
	go func() {
		tx.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() on idle transmitter blocked")
	}
	if tx.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped", tx.State())
	}
}

func TestStopHaltsSends(t *testing.T) {
	h, v := openVirtualHandle(t)
	tx := New(MessageSpec{ID: 0x2, CycleTime: 20 * time.Millisecond}, h, nil)
	tx.Start()
	time.Sleep(70 * time.Millisecond)
	tx.Stop()

	n := len(v.Records())
	time.Sleep(100 * time.Millisecond)
	if got := len(v.Records()); got != n {
		t.Fatalf("sends continued after Stop(): %d -> %d", n, got)
	}
}

func TestUpdateVisibleNextTick(t *testing.T) {
	h, v := openVirtualHandle(t)
	rec := &recorder{}
	tx := New(MessageSpec{ID: 0x200, Data: []byte{0xAA}, CycleTime: 30 * time.Millisecond}, h, rec)
	tx.Start()
	rec.waitFor(t, 1, time.Second)

	tx.Update(MessageSpec{ID: 0x200, Data: []byte{0xBB, 0xCC}, CycleTime: 30 * time.Millisecond})
	before := len(v.Records())
	rec.waitFor(t, before+2, time.Second)
	tx.Stop()

	records := v.Records()
	last := records[len(records)-1]
	if last.Frame.Len != 2 || last.Frame.Data[0] != 0xBB || last.Frame.Data[1] != 0xCC {
		t.Fatalf("last frame %v does not carry the updated payload", last.Frame)
	}
}

func TestBusNotInitializedRetries(t *testing.T) {
	v := canbus.NewVirtualBus()
	h := bus.NewHandleWithOpener(func(cfg canbus.Config) (canbus.Driver, error) {
		return v, nil
	})
	rec := &recorder{}

	// Bus never opened: the transmitter must keep retrying, not die.
	tx := New(MessageSpec{ID: 0x300, Data: []byte{1}, CycleTime: 20 * time.Millisecond}, h, rec)
	tx.Start()
	defer tx.Stop()

	rec.waitFor(t, 1, time.Second)
	if got := rec.snapshot()[0]; got != OutcomeBusClosed {
		t.Fatalf("first outcome = %v, want busNotInitialized", got)
	}
	if tx.State() != StateRunning {
		t.Fatalf("State() = %v, want running", tx.State())
	}

	// Opening the bus heals the transmitter within one retry period.
	if err := h.Open("sim0", "virtual", 500000); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	deadline := time.Now().Add(2500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(v.Records()) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no send observed after bus became available")
}

func TestTransmitFailuresAreNonFatal(t *testing.T) {
	h, v := openVirtualHandle(t)
	v.FailEvery(3)
	rec := &recorder{}

	tx := New(MessageSpec{ID: 0x400, Data: []byte{1}, CycleTime: 40 * time.Millisecond}, h, rec)
	tx.Start()
	rec.waitFor(t, 5, 2*time.Second)

	if tx.State() != StateRunning {
		t.Fatalf("State() = %v after failures, want running", tx.State())
	}
	tx.Stop()

	var failures int
	for _, outcome := range rec.snapshot()[:5] {
		if outcome == OutcomeSendFailed {
			failures++
		}
	}
	// Attempts 1 and 4 hit injected failures over a 5-cycle run.
	if failures != 2 {
		t.Fatalf("failure events in 5 cycles = %d, want 2", failures)
	}
}
