package command

import (
	"errors"
	"testing"
	"time"

	"github.com/harshalekkalaarjun/multi-can-sim/internal/bus"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/canbus"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/telemetry"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/transmit"
)

type nopAudit struct{}

func (nopAudit) LogAction(action, canID, outcome, detail string, latency time.Duration) {}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *canbus.VirtualBus, *telemetry.Hub) {
	t.Helper()

	vb := canbus.NewVirtualBus()
	handle := bus.NewHandleWithOpener(func(cfg canbus.Config) (canbus.Driver, error) {
		if cfg.Interface != "virtual" {
			return nil, canbus.ErrUnknownInterface
		}
		return vb, nil
	})

	hub := telemetry.NewHub(100, time.Minute)
	t.Cleanup(hub.Stop)

	o := NewOrchestrator(handle, hub, nopAudit{}, BusDefaults{
		Channel: "vcan0", Interface: "virtual", Bitrate: 500000,
	})
	t.Cleanup(o.StopAllCyclic)
	return o, vb, hub
}

func spec(id uint32, cycle time.Duration, data ...byte) transmit.MessageSpec {
	return transmit.MessageSpec{ID: id, Data: data, CycleTime: cycle}
}

func TestAddRemoveMessage(t *testing.T) {
	o, vb, _ := newTestOrchestrator(t)

	effect, err := o.AddOrUpdateMessage(spec(0x100, 100*time.Millisecond, 0x01))
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if effect != transmit.EffectCreated {
		t.Fatalf("effect = %v, want created", effect)
	}

	effect, err = o.AddOrUpdateMessage(spec(0x100, 50*time.Millisecond, 0x02))
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if effect != transmit.EffectUpdated {
		t.Fatalf("effect = %v, want updated", effect)
	}

	if got := len(o.Messages()); got != 1 {
		t.Fatalf("table holds %d messages, want 1", got)
	}
	// The transmitter is live but the bus is closed, so nothing
	// reaches it.
	if vb.SendCount() != 0 {
		t.Fatalf("bus saw %d sends while closed", vb.SendCount())
	}

	if !o.RemoveMessage(0x100) {
		t.Fatal("remove reported not found")
	}
	if o.RemoveMessage(0x100) {
		t.Fatal("second remove reported found")
	}
	if got := len(o.Messages()); got != 0 {
		t.Fatalf("table holds %d messages after remove", got)
	}
}

func TestAddMessageRejectsInvalid(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	if _, err := o.AddOrUpdateMessage(spec(0x800, 100*time.Millisecond)); !errors.Is(err, canbus.ErrInvalidID) {
		t.Fatalf("err = %v, want ErrInvalidID", err)
	}
	if _, err := o.AddOrUpdateMessage(spec(0x100, 0)); !errors.Is(err, transmit.ErrInvalidCycleTime) {
		t.Fatalf("err = %v, want ErrInvalidCycleTime", err)
	}
	if got := len(o.Messages()); got != 0 {
		t.Fatalf("invalid specs reached the table: %d", got)
	}
}

func TestAddStartsCyclicImmediately(t *testing.T) {
	o, vb, _ := newTestOrchestrator(t)

	if err := o.OpenBus("vcan0", "virtual", 500000); err != nil {
		t.Fatalf("OpenBus() failed: %v", err)
	}

	// No start-all: adding a message begins its cycle on its own.
	if _, err := o.AddOrUpdateMessage(spec(0x100, 50*time.Millisecond, 0x01)); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for vb.SendCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("saw only %d sends after add", vb.SendCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	views := o.Messages()
	if len(views) != 1 || views[0].State != "running" {
		t.Fatalf("views = %+v", views)
	}
}

func TestStartAllAutoOpensBus(t *testing.T) {
	o, vb, _ := newTestOrchestrator(t)

	if _, err := o.AddOrUpdateMessage(spec(0x100, 20*time.Millisecond, 0x01)); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := o.StartAllCyclic(); err != nil {
		t.Fatalf("StartAllCyclic() failed: %v", err)
	}

	st := o.Status()
	if !st.BusOpen || !st.Running {
		t.Fatalf("status = %+v, want open and running", st)
	}
	if st.Channel != "vcan0" || st.Bitrate != 500000 {
		t.Fatalf("bus defaults not applied: %+v", st)
	}

	deadline := time.After(2 * time.Second)
	for vb.SendCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("saw only %d sends", vb.SendCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartAllAbortsWhenBusCannotOpen(t *testing.T) {
	vb := canbus.NewVirtualBus()
	handle := bus.NewHandleWithOpener(func(cfg canbus.Config) (canbus.Driver, error) {
		return vb, nil
	})
	hub := telemetry.NewHub(100, time.Minute)
	t.Cleanup(hub.Stop)

	// Empty channel default makes the auto-open fail validation.
	o := NewOrchestrator(handle, hub, nopAudit{}, BusDefaults{
		Channel: "", Interface: "virtual", Bitrate: 500000,
	})

	if _, err := o.AddOrUpdateMessage(spec(0x100, 20*time.Millisecond, 0x01)); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	err := o.StartAllCyclic()
	if !errors.Is(err, bus.ErrInvalidChannel) {
		t.Fatalf("err = %v, want ErrInvalidChannel", err)
	}

	st := o.Status()
	if st.BusOpen {
		t.Fatalf("status = %+v, want bus closed", st)
	}
	if vb.SendCount() != 0 {
		t.Fatalf("bus saw %d sends after aborted start", vb.SendCount())
	}

	o.StopAllCyclic()
}

func TestLiveUpdateWhileRunning(t *testing.T) {
	o, vb, _ := newTestOrchestrator(t)

	if _, err := o.AddOrUpdateMessage(spec(0x200, 20*time.Millisecond, 0xAA)); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := o.StartAllCyclic(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if _, err := o.AddOrUpdateMessage(spec(0x200, 20*time.Millisecond, 0xBB)); err != nil {
		t.Fatalf("live update failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		var seen bool
		for _, rec := range vb.Records() {
			if rec.Frame.ID == 0x200 && rec.Frame.Len == 1 && rec.Frame.Data[0] == 0xBB {
				seen = true
			}
		}
		if seen {
			break
		}
		select {
		case <-deadline:
			t.Fatal("updated payload never reached the bus")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Still exactly one transmitter for the id.
	views := o.Messages()
	if len(views) != 1 || views[0].State != "running" {
		t.Fatalf("views = %+v", views)
	}
}

func TestStopAllKeepsBusOpen(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	if _, err := o.AddOrUpdateMessage(spec(0x300, 20*time.Millisecond)); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := o.StartAllCyclic(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	o.StopAllCyclic()

	st := o.Status()
	if st.Running {
		t.Fatal("still running after stop")
	}
	if !st.BusOpen {
		t.Fatal("stop closed the bus")
	}
	if len(st.Messages) != 1 {
		t.Fatalf("table cleared by stop: %+v", st.Messages)
	}
}

func TestResetClosesBusAndClearsTable(t *testing.T) {
	o, _, hub := newTestOrchestrator(t)

	if _, err := o.AddOrUpdateMessage(spec(0x300, 20*time.Millisecond)); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := o.StartAllCyclic(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := o.ResetAndCloseBus(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	st := o.Status()
	if st.BusOpen || st.Running || len(st.Messages) != 0 {
		t.Fatalf("status after reset = %+v", st)
	}

	events := hub.Recent(0)
	var sawClosed bool
	for _, ev := range events {
		if ev.Type == telemetry.TypeBusClosed {
			sawClosed = true
		}
	}
	if !sawClosed {
		t.Fatal("no bus closed event published")
	}
}
