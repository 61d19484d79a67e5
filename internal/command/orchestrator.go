package command

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harshalekkalaarjun/multi-can-sim/internal/audit"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/bus"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/canbus"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/telemetry"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/transmit"
)

// AuditLogger interface for writing audit records.
type AuditLogger interface {
	LogAction(action, canID, outcome, detail string, latency time.Duration)
}

// Compile-time assertion that audit.Logger implements AuditLogger.
var _ AuditLogger = (*audit.Logger)(nil)

// BusDefaults is the transport configuration used when transmission is
// started before the operator opened the bus explicitly.
type BusDefaults struct {
	Channel   string
	Interface string
	Bitrate   int
}

// Orchestrator owns the message table and drives the bus handle and
// the transmitter registry. The table holds what the operator
// configured; the registry holds what is currently cycling.
type Orchestrator struct {
	handle   *bus.Handle
	registry *transmit.Registry
	hub      *telemetry.Hub
	audit    AuditLogger
	defaults BusDefaults

	mu    sync.Mutex
	table map[uint32]transmit.MessageSpec

	stats reporterStats
}

// reporterStats counts send attempts by outcome.
type reporterStats struct {
	sent      atomic.Int64
	failed    atomic.Int64
	busClosed atomic.Int64
}

// NewOrchestrator creates an orchestrator around the given bus handle.
// The transmitter registry is created internally so that every send
// outcome flows through the hub and the counters.
func NewOrchestrator(handle *bus.Handle, hub *telemetry.Hub, auditLogger AuditLogger, defaults BusDefaults) *Orchestrator {
	o := &Orchestrator{
		handle:   handle,
		hub:      hub,
		audit:    auditLogger,
		defaults: defaults,
		table:    make(map[uint32]transmit.MessageSpec),
	}
	o.registry = transmit.NewRegistry(handle, &hubReporter{o: o})
	return o
}

// hubReporter forwards transmitter outcomes into the orchestrator:
// every attempt is counted, failures are published to the hub so the
// operator sees them. Successful sends are not streamed one by one.
type hubReporter struct {
	o *Orchestrator
}

func (r *hubReporter) Report(id uint32, outcome transmit.Outcome, err error) {
	switch outcome {
	case transmit.OutcomeSent:
		r.o.stats.sent.Add(1)
		return
	case transmit.OutcomeBusClosed:
		r.o.stats.busClosed.Add(1)
	case transmit.OutcomeSendFailed:
		r.o.stats.failed.Add(1)
	}

	data := map[string]interface{}{
		"id":      fmt.Sprintf("0x%X", id),
		"outcome": string(outcome),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	r.o.hub.Publish(telemetry.Event{
		Type:    telemetry.TypeTransmitter,
		Message: fmt.Sprintf("send 0x%X: %s", id, outcome),
		Data:    data,
	})
}

// OpenBus opens the CAN channel. Opening an already open bus is a
// no-op, matching the handle semantics.
func (o *Orchestrator) OpenBus(channel, iface string, bitrate int) error {
	start := time.Now()

	err := o.handle.Open(channel, iface, bitrate)
	latency := time.Since(start)
	if err != nil {
		o.audit.LogAction("openBus", "", "ERROR", err.Error(), latency)
		return err
	}

	o.audit.LogAction("openBus", "", "SUCCESS", fmt.Sprintf("%s/%s @ %d", channel, iface, bitrate), latency)
	o.hub.Publish(telemetry.Event{
		Type:    telemetry.TypeBusOpened,
		Message: fmt.Sprintf("bus opened: %s", channel),
		Data: map[string]interface{}{
			"channel":   channel,
			"interface": iface,
			"bitrate":   bitrate,
		},
	})
	return nil
}

// AddOrUpdateMessage puts a message into the table, keyed by its
// identifier, and upserts its transmitter: an existing one is updated
// in place, effective on its next cycle, otherwise a new one is
// created and started right away. A closed bus does not defer the
// start; the transmitter retry-waits until the bus opens.
func (o *Orchestrator) AddOrUpdateMessage(spec transmit.MessageSpec) (transmit.Effect, error) {
	start := time.Now()

	if err := spec.Validate(); err != nil {
		o.audit.LogAction("addMessage", spec.IDString(), "INVALID", err.Error(), time.Since(start))
		return 0, err
	}

	o.mu.Lock()
	o.table[spec.ID] = spec
	o.mu.Unlock()

	effect, err := o.registry.Upsert(spec)
	if err != nil {
		o.audit.LogAction("addMessage", spec.IDString(), "ERROR", err.Error(), time.Since(start))
		return 0, err
	}

	o.audit.LogAction("addMessage", spec.IDString(), "SUCCESS", effect.String(), time.Since(start))
	o.hub.Publish(telemetry.Event{
		Type:    telemetry.TypeTransmitter,
		Message: fmt.Sprintf("message %s %s", spec.IDString(), effect),
		Data: map[string]interface{}{
			"id":      spec.IDString(),
			"effect":  effect.String(),
			"cycleMs": float64(spec.CycleTime) / float64(time.Millisecond),
		},
	})
	return effect, nil
}

// RemoveMessage deletes a message from the table and stops its
// transmitter if one is running. Reports whether the id was known.
func (o *Orchestrator) RemoveMessage(id uint32) bool {
	start := time.Now()
	idStr := fmt.Sprintf("0x%X", id)

	o.mu.Lock()
	_, existed := o.table[id]
	delete(o.table, id)
	o.mu.Unlock()

	stopped := o.registry.Remove(id)
	if !existed && !stopped {
		o.audit.LogAction("removeMessage", idStr, "NOT_FOUND", "", time.Since(start))
		return false
	}

	o.audit.LogAction("removeMessage", idStr, "SUCCESS", "", time.Since(start))
	o.hub.Publish(telemetry.Event{
		Type:    telemetry.TypeTransmitter,
		Message: fmt.Sprintf("message %s removed", idStr),
		Data:    map[string]interface{}{"id": idStr},
	})
	return true
}

// StartAllCyclic starts cyclic transmission of every message in the
// table. If the bus is not open yet it is opened with the configured
// defaults first; when that fails nothing is started.
func (o *Orchestrator) StartAllCyclic() error {
	start := time.Now()

	if !o.handle.IsOpen() {
		if err := o.OpenBus(o.defaults.Channel, o.defaults.Interface, o.defaults.Bitrate); err != nil {
			o.audit.LogAction("startAll", "", "ERROR", err.Error(), time.Since(start))
			return err
		}
	}

	o.mu.Lock()
	specs := make([]transmit.MessageSpec, 0, len(o.table))
	for _, spec := range o.table {
		specs = append(specs, spec)
	}
	o.mu.Unlock()

	if err := o.registry.StartAll(specs); err != nil {
		o.audit.LogAction("startAll", "", "ERROR", err.Error(), time.Since(start))
		return err
	}

	o.audit.LogAction("startAll", "", "SUCCESS", fmt.Sprintf("%d messages", len(specs)), time.Since(start))
	o.hub.Publish(telemetry.Event{
		Type:    telemetry.TypeTransmitter,
		Message: fmt.Sprintf("cyclic transmission started: %d messages", len(specs)),
		Data:    map[string]interface{}{"count": len(specs)},
	})
	return nil
}

// StopAllCyclic stops every running transmitter and waits for them to
// quiesce. The bus stays open.
func (o *Orchestrator) StopAllCyclic() {
	start := time.Now()

	o.registry.StopAll()

	o.audit.LogAction("stopAll", "", "SUCCESS", "", time.Since(start))
	o.hub.Publish(telemetry.Event{
		Type:    telemetry.TypeTransmitter,
		Message: "cyclic transmission stopped",
	})
}

// ResetAndCloseBus stops all transmitters, clears the message table
// and closes the bus.
func (o *Orchestrator) ResetAndCloseBus() error {
	start := time.Now()

	o.registry.StopAll()

	o.mu.Lock()
	o.table = make(map[uint32]transmit.MessageSpec)
	o.mu.Unlock()

	err := o.handle.Close()
	latency := time.Since(start)
	if err != nil {
		o.audit.LogAction("reset", "", "ERROR", err.Error(), latency)
		return err
	}

	o.audit.LogAction("reset", "", "SUCCESS", "", latency)
	o.hub.Publish(telemetry.Event{
		Type:    telemetry.TypeBusClosed,
		Message: "bus closed and state cleared",
	})
	return nil
}

// MessageView is one table row plus its live transmitter state.
type MessageView struct {
	ID      string  `json:"id"`
	IDType  string  `json:"idType"`
	Data    string  `json:"data"`
	CycleMs float64 `json:"cycleMs"`
	State   string  `json:"state"`
}

// Status is the service snapshot returned by the status endpoint.
type Status struct {
	BusOpen    bool          `json:"busOpen"`
	Channel    string        `json:"channel,omitempty"`
	Interface  string        `json:"interface,omitempty"`
	Bitrate    int           `json:"bitrate,omitempty"`
	Interfaces []string      `json:"availableInterfaces"`
	Running    bool          `json:"running"`
	Messages   []MessageView `json:"messages"`
	Sent       int64         `json:"sentCount"`
	Failed     int64         `json:"failedCount"`
	BusMisses  int64         `json:"busClosedCount"`
}

// Messages returns the configured table sorted by identifier.
func (o *Orchestrator) Messages() []MessageView {
	o.mu.Lock()
	specs := make([]transmit.MessageSpec, 0, len(o.table))
	for _, spec := range o.table {
		specs = append(specs, spec)
	}
	o.mu.Unlock()

	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })

	views := make([]MessageView, 0, len(specs))
	for _, spec := range specs {
		views = append(views, o.viewOf(spec))
	}
	return views
}

func (o *Orchestrator) viewOf(spec transmit.MessageSpec) MessageView {
	idType := transmit.IDTypeStandard
	if spec.Extended {
		idType = transmit.IDTypeExtended
	}

	state := "idle"
	if s, ok := o.registry.State(spec.ID); ok {
		state = s.String()
	}

	var parts []string
	for _, b := range spec.Data {
		parts = append(parts, fmt.Sprintf("%02X", b))
	}

	return MessageView{
		ID:      spec.IDString(),
		IDType:  idType,
		Data:    strings.Join(parts, " "),
		CycleMs: float64(spec.CycleTime) / float64(time.Millisecond),
		State:   state,
	}
}

// Status reports the bus, the table and the send counters. Running
// means at least one transmitter is cycling.
func (o *Orchestrator) Status() Status {
	st := Status{
		BusOpen:    o.handle.IsOpen(),
		Interfaces: canbus.Interfaces(),
		Running:    o.registry.Len() > 0,
		Messages:   o.Messages(),
		Sent:       o.stats.sent.Load(),
		Failed:     o.stats.failed.Load(),
		BusMisses:  o.stats.busClosed.Load(),
	}

	if info, ok := o.handle.Info(); ok {
		st.Channel = info.Channel
		st.Interface = info.Interface
		st.Bitrate = info.Bitrate
	}

	return st
}
