// Package command routes validated API intents to the bus handle and
// the transmitter registry, audits every action and publishes the
// resulting events to the telemetry hub.
package command
