package manifest

import (
	"go.uber.org/zap"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/codec/scribe"
	"caravan.ai/internal/sim/entity"
)

// Assembler builds manifests from live entities and unpacks them again.
type Assembler struct {
	codec *scribe.Codec
	log   *zap.Logger
}

func NewAssembler(codec *scribe.Codec, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{codec: codec, log: logger.Named("manifest")}
}

func (a *Assembler) Codec() *scribe.Codec { return a.codec }

// Assemble encodes own entities into the category lists and foreign ones
// into Foreign. Entities that fail to encode are dropped from the batch.
func (a *Assembler) Assemble(from, to string, mode Mode, own, foreign []entity.Entity) (*Manifest, error) {
	m := New(from, to, mode)
	for _, e := range own {
		d := a.codec.Encode(e)
		if d == nil {
			continue
		}
		switch d.Variant() {
		case descriptor.VariantAgent:
			m.Agents = append(m.Agents, d)
		case descriptor.VariantCreature:
			m.Creatures = append(m.Creatures, d)
		case descriptor.VariantItem:
			m.Items = append(m.Items, d)
		}
	}
	m.Foreign = append(m.Foreign, a.codec.EncodeBatch(foreign)...)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Empty() {
		return nil, ErrEmpty
	}
	a.log.Debug("manifest assembled",
		zap.Stringer("id", m.ID),
		zap.String("mode", string(m.Mode)),
		zap.Int("agents", len(m.Agents)),
		zap.Int("creatures", len(m.Creatures)),
		zap.Int("items", len(m.Items)),
		zap.Int("foreign", len(m.Foreign)))
	return m, nil
}

// Unpack decodes the initiator's entities and the foreign ones. Entity
// faults are logged by the codec and skipped.
func (a *Assembler) Unpack(m *Manifest) (own, foreign []entity.Entity) {
	if m == nil {
		return nil, nil
	}
	return a.codec.DecodeBatch(m.Own()), a.codec.DecodeBatch(m.Foreign)
}
