// Package transmit implements the periodic multi-transmitter core: one
// goroutine per message definition, each repeating its send at its own
// cycle time over the shared bus handle, managed by an
// identifier-keyed registry with safe start/update/stop semantics.
package transmit
