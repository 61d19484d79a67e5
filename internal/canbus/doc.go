// Package canbus provides the core CAN frame type and the transport
// driver layer.
//
// It includes:
//   - A Frame type with identifier and length validation
//   - A named driver registry selecting the transport by hardware
//     interface name ("socketcan", "virtual")
//   - A Linux SocketCAN driver and an in-memory virtual driver for
//     tests and hardware-free simulation
package canbus
