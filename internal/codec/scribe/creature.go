package scribe

import (
	"fmt"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/sim/catalogs"
	"caravan.ai/internal/sim/entity"
)

func (c *Codec) creatureAttributes() []attribute[*entity.Creature] {
	return []attribute[*entity.Creature]{
		{name: "def", encode: func(cr *entity.Creature) (staged, error) {
			return staged{descriptor.FieldDef: descriptor.String(cr.Def)}, nil
		}},
		{name: "identity", encode: func(cr *entity.Creature) (staged, error) {
			return identityFields(cr.Name, cr.BioAgeTicks, cr.ChronoAgeTicks, cr.Gender), nil
		}, decode: func(d *descriptor.Descriptor, cr *entity.Creature) error {
			return identity{&cr.Name, &cr.BioAgeTicks, &cr.ChronoAgeTicks, &cr.Gender}.apply(d)
		}},
		{name: "health", encode: func(cr *entity.Creature) (staged, error) {
			return staged{descriptor.FieldHealth: conditionsValue(cr.Health)}, nil
		}, decode: func(d *descriptor.Descriptor, cr *entity.Creature) error {
			cr.Health = cr.Health[:0]
			return c.eachNested(cr.Label(), "health", d, descriptor.FieldHealth, func(nd *descriptor.Descriptor) error {
				cond, err := c.decodeCondition(nd)
				if err != nil {
					return err
				}
				cr.Health = append(cr.Health, cond)
				return nil
			})
		}},
		{name: "training", encode: encodeTraining, decode: c.decodeTraining},
		{name: "position", encode: encodePosition[*entity.Creature], decode: decodePosition[*entity.Creature]},
	}
}

func (c *Codec) EncodeCreature(cr *entity.Creature) *descriptor.Descriptor {
	if cr == nil {
		return nil
	}
	d := descriptor.New(descriptor.VariantCreature)
	encodeAttrs(c, cr.Label(), c.creatureAttrs, cr, d)
	return d
}

func (c *Codec) DecodeCreature(d *descriptor.Descriptor) *entity.Creature {
	if d == nil {
		return nil
	}
	def, _, err := getString(d, descriptor.FieldDef)
	if err != nil {
		c.entityFault("creature", "", err)
		return nil
	}
	cr, err := c.cat.NewCreature(def)
	if err != nil {
		c.entityFault("creature", def, err)
		return nil
	}
	decodeAttrs(c, def, c.creatureAttrs, d, cr)
	return cr
}

func encodeTraining(cr *entity.Creature) (staged, error) {
	list := make([]descriptor.Value, 0, len(cr.Training))
	for _, t := range cr.Training {
		td := descriptor.New(descriptor.VariantTrainable)
		_ = td.Set(descriptor.FieldDef, descriptor.String(t.Def))
		_ = td.Set(descriptor.FieldCanTrain, descriptor.Bool(t.CanTrain))
		_ = td.Set(descriptor.FieldLearned, descriptor.Bool(t.Learned))
		_ = td.Set(descriptor.FieldWanted, descriptor.Bool(t.Wanted))
		list = append(list, descriptor.Nested(td))
	}
	return staged{descriptor.FieldTraining: descriptor.List(list...)}, nil
}

// Training records update the fresh creature's per-trainable slots in place.
func (c *Codec) decodeTraining(d *descriptor.Descriptor, cr *entity.Creature) error {
	return c.eachNested(cr.Label(), "training", d, descriptor.FieldTraining, func(nd *descriptor.Descriptor) error {
		def, err := c.requiredDef(nd, descriptor.FieldDef, catalogs.DefTrainable)
		if err != nil {
			return err
		}
		can, hasCan, err := getBool(nd, descriptor.FieldCanTrain)
		if err != nil {
			return err
		}
		learned, hasLearned, err := getBool(nd, descriptor.FieldLearned)
		if err != nil {
			return err
		}
		wanted, hasWanted, err := getBool(nd, descriptor.FieldWanted)
		if err != nil {
			return err
		}
		for i := range cr.Training {
			t := &cr.Training[i]
			if t.Def != def {
				continue
			}
			if hasCan {
				t.CanTrain = can
			}
			if hasLearned {
				t.Learned = learned
			}
			if hasWanted {
				t.Wanted = wanted
			}
			return nil
		}
		return fmt.Errorf("creature has no trainable slot %s", def)
	})
}
