package api

import (
	"context"
	"net/http"

	"github.com/harshalekkalaarjun/multi-can-sim/internal/command"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/telemetry"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/transmit"
)

// OrchestratorPort defines the minimal interface the API needs from the orchestrator.
type OrchestratorPort interface {
	OpenBus(channel, iface string, bitrate int) error
	AddOrUpdateMessage(spec transmit.MessageSpec) (transmit.Effect, error)
	RemoveMessage(id uint32) bool
	StartAllCyclic() error
	StopAllCyclic()
	ResetAndCloseBus() error
	Status() command.Status
	Messages() []command.MessageView
}

// TelemetryPort defines the minimal interface the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	Recent(afterID int64) []telemetry.Event
}

// Compile-time assertions for port conformance
var _ OrchestratorPort = (*command.Orchestrator)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
