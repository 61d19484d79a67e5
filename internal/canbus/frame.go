package canbus

import (
	"errors"
	"fmt"
	"strings"
)

// Frame represents a classical CAN (2.0A/2.0B) frame.
//
// Supported features:
//   - Standard (11-bit) and Extended (29-bit) identifiers
//   - Data length 0-8 bytes (classical CAN)
//
// Not implemented: CAN FD specific fields.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // true for 29-bit identifier
	RTR      bool   // remote transmission request
	Len      uint8  // 0..8
	Data     [8]byte
}

// Validation limits.
const (
	MaxStdID   = 0x7FF
	MaxExtID   = 0x1FFFFFFF
	MaxDataLen = 8
)

var (
	ErrInvalidID  = errors.New("canbus: invalid identifier")
	ErrInvalidLen = errors.New("canbus: invalid data length")
)

// NewFrame constructs a validated frame from an identifier and payload.
func NewFrame(id uint32, data []byte, extended bool) (Frame, error) {
	var f Frame
	f.ID = id
	f.Extended = extended
	if len(data) > MaxDataLen {
		return Frame{}, ErrInvalidLen
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate returns an error if the frame is not valid.
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > MaxExtID {
			return ErrInvalidID
		}
	} else {
		if f.ID > MaxStdID {
			return ErrInvalidID
		}
	}
	return nil
}

// String renders the frame for log output, e.g. "0x100 [2] 01 02".
func (f Frame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "0x%X [%d]", f.ID, f.Len)
	for i := uint8(0); i < f.Len; i++ {
		fmt.Fprintf(&b, " %02X", f.Data[i])
	}
	return b.String()
}
