// Package manifest defines the unit of exchange between two peers: a batch
// of entity descriptors plus the transfer metadata that routes it.
package manifest

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"caravan.ai/internal/codec/descriptor"
)

var (
	ErrEmpty       = errors.New("manifest carries no entities")
	ErrInvalid     = errors.New("invalid manifest")
	ErrEmptyBody   = errors.New("empty manifest body")
	ErrCorruptBody = errors.New("corrupt manifest body")
)

type Mode string

const (
	ModeGift    Mode = "GIFT"
	ModeTrade   Mode = "TRADE"
	ModeDropPod Mode = "DROP_POD"
	// ModeRebound is a trade bounced back to its initiator with a counter
	// offer attached.
	ModeRebound Mode = "REBOUND"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeGift, ModeTrade, ModeDropPod, ModeRebound:
		return true
	}
	return false
}

// Step is the protocol step a manifest is carrying.
type Step int

const (
	StepRequest Step = iota
	StepAccept
	StepReject
	StepReRequest
	StepReAccept
	StepReReject
	StepRecover
)

var stepNames = [...]string{
	"TRADE_REQUEST",
	"TRADE_ACCEPT",
	"TRADE_REJECT",
	"TRADE_REREQUEST",
	"TRADE_REACCEPT",
	"TRADE_REREJECT",
	"RECOVER",
}

func (s Step) Valid() bool { return s >= 0 && int(s) < len(stepNames) }

func (s Step) String() string {
	if !s.Valid() {
		return fmt.Sprintf("STEP(%d)", int(s))
	}
	return stepNames[s]
}

func (s Step) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown step %d", int(s))
	}
	return []byte(stepNames[s]), nil
}

func (s *Step) UnmarshalText(b []byte) error {
	for i, n := range stepNames {
		if n == string(b) {
			*s = Step(i)
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", b)
}

// Manifest partitions descriptors by category for the initiator's own
// entities. Foreign holds descriptors that already belong to the
// counterpart; each is self-tagged with its variant.
type Manifest struct {
	ID   uuid.UUID `json:"id"`
	From string    `json:"from"`
	To   string    `json:"to"`
	Mode Mode      `json:"mode"`
	Step Step      `json:"step"`

	Agents    []*descriptor.Descriptor `json:"agents"`
	Creatures []*descriptor.Descriptor `json:"creatures"`
	Items     []*descriptor.Descriptor `json:"items"`
	Foreign   []*descriptor.Descriptor `json:"foreign"`
}

func New(from, to string, mode Mode) *Manifest {
	return &Manifest{
		ID:        uuid.New(),
		From:      from,
		To:        to,
		Mode:      mode,
		Step:      StepRequest,
		Agents:    []*descriptor.Descriptor{},
		Creatures: []*descriptor.Descriptor{},
		Items:     []*descriptor.Descriptor{},
		Foreign:   []*descriptor.Descriptor{},
	}
}

// Own returns the initiator's descriptors in agents, creatures, items order.
// Indices into this slice are stable for the manifest's lifetime.
func (m *Manifest) Own() []*descriptor.Descriptor {
	if m == nil {
		return nil
	}
	out := make([]*descriptor.Descriptor, 0, len(m.Agents)+len(m.Creatures)+len(m.Items))
	out = append(out, m.Agents...)
	out = append(out, m.Creatures...)
	return append(out, m.Items...)
}

func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Agents) + len(m.Creatures) + len(m.Items) + len(m.Foreign)
}

func (m *Manifest) Empty() bool { return m.Len() == 0 }

// Clone copies the manifest header and lists. Descriptors are shared; they
// are not mutated once assembled.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	c := *m
	c.Agents = append([]*descriptor.Descriptor{}, m.Agents...)
	c.Creatures = append([]*descriptor.Descriptor{}, m.Creatures...)
	c.Items = append([]*descriptor.Descriptor{}, m.Items...)
	c.Foreign = append([]*descriptor.Descriptor{}, m.Foreign...)
	return &c
}

// WithStep returns a copy carrying step.
func (m *Manifest) WithStep(step Step) *Manifest {
	c := m.Clone()
	c.Step = step
	return c
}

// Validate checks header fields and that each list holds only its variant.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil", ErrInvalid)
	}
	if m.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if m.From == "" || m.To == "" {
		return fmt.Errorf("%w: missing location", ErrInvalid)
	}
	if !m.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalid, m.Mode)
	}
	if !m.Step.Valid() {
		return fmt.Errorf("%w: unknown step %d", ErrInvalid, int(m.Step))
	}
	lists := []struct {
		name    string
		ds      []*descriptor.Descriptor
		variant descriptor.Variant
	}{
		{"agents", m.Agents, descriptor.VariantAgent},
		{"creatures", m.Creatures, descriptor.VariantCreature},
		{"items", m.Items, descriptor.VariantItem},
	}
	for _, l := range lists {
		for i, d := range l.ds {
			if d == nil || d.Variant() != l.variant {
				return fmt.Errorf("%w: %s[%d] is not %s", ErrInvalid, l.name, i, l.variant)
			}
		}
	}
	for i, d := range m.Foreign {
		if d == nil {
			return fmt.Errorf("%w: foreign[%d] is nil", ErrInvalid, i)
		}
		switch d.Variant() {
		case descriptor.VariantAgent, descriptor.VariantCreature, descriptor.VariantItem:
		default:
			return fmt.Errorf("%w: foreign[%d] has variant %s", ErrInvalid, i, d.Variant())
		}
	}
	return nil
}
