package transmit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harshalekkalaarjun/multi-can-sim/internal/canbus"
)

// MessageSpec is one message definition: what to send and how often.
type MessageSpec struct {
	ID        uint32        `json:"id"`
	Data      []byte        `json:"data"`
	CycleTime time.Duration `json:"cycleTime"`
	Extended  bool          `json:"extended"`
}

var ErrInvalidCycleTime = errors.New("transmit: cycle time must be positive")

// Validate checks the spec invariants: identifier within the 11/29-bit
// range, payload at most 8 bytes, cycle time positive. Rejection here
// happens before any transmitter is created or touched.
func (s MessageSpec) Validate() error {
	if s.CycleTime <= 0 {
		return ErrInvalidCycleTime
	}
	if _, err := canbus.NewFrame(s.ID, s.Data, s.Extended); err != nil {
		return err
	}
	return nil
}

// IDString renders the identifier the way operators write it.
func (s MessageSpec) IDString() string {
	return fmt.Sprintf("0x%X", s.ID)
}

// ID type names accepted at the boundary.
const (
	IDTypeStandard = "Standard"
	IDTypeExtended = "Extended"
)

// ParseSpec builds a validated MessageSpec from boundary inputs: a hex
// identifier, a whitespace-separated hex byte string ("01 02 0A"), a
// cycle time in (fractional) milliseconds and an id-type name.
func ParseSpec(id, data string, cycleMillis float64, idType string) (MessageSpec, error) {
	var spec MessageSpec

	switch idType {
	case IDTypeStandard, "":
		spec.Extended = false
	case IDTypeExtended:
		spec.Extended = true
	default:
		return MessageSpec{}, fmt.Errorf("transmit: unknown id type %q", idType)
	}

	raw := strings.TrimPrefix(strings.TrimSpace(id), "0x")
	parsed, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return MessageSpec{}, fmt.Errorf("transmit: malformed identifier %q: %w", id, err)
	}
	spec.ID = uint32(parsed)

	for _, tok := range strings.Fields(data) {
		b, err := strconv.ParseUint(strings.TrimPrefix(tok, "0x"), 16, 8)
		if err != nil {
			return MessageSpec{}, fmt.Errorf("transmit: malformed data byte %q: %w", tok, err)
		}
		spec.Data = append(spec.Data, byte(b))
	}

	spec.CycleTime = time.Duration(cycleMillis * float64(time.Millisecond))

	if err := spec.Validate(); err != nil {
		return MessageSpec{}, err
	}
	return spec, nil
}

// Effect reports what an upsert did.
type Effect int

const (
	EffectCreated Effect = iota + 1
	EffectUpdated
)

func (e Effect) String() string {
	switch e {
	case EffectCreated:
		return "created"
	case EffectUpdated:
		return "updated"
	default:
		return "unknown"
	}
}
