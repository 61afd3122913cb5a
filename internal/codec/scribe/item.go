package scribe

import (
	"errors"
	"fmt"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/sim/catalogs"
	"caravan.ai/internal/sim/entity"
)

var ErrEmptyStack = errors.New("empty stack")

func (c *Codec) itemAttributes() []attribute[*entity.Item] {
	return []attribute[*entity.Item]{
		{name: "def", encode: func(it *entity.Item) (staged, error) {
			return staged{descriptor.FieldDef: descriptor.String(it.Def)}, nil
		}},
		{name: "material", encode: func(it *entity.Item) (staged, error) {
			return staged{descriptor.FieldMaterial: descriptor.String(it.Material)}, nil
		}},
		{name: "quantity", encode: encodeQuantity, decode: decodeQuantity},
		{name: "quality", encode: encodeQuality, decode: c.decodeQuality},
		{name: "hit_points", encode: encodeHitPoints, decode: c.decodeHitPoints},
		{name: "position", encode: encodePosition[*entity.Item], decode: decodePosition[*entity.Item]},
		{name: "rotation", encode: encodeRotation, decode: decodeRotation},
		{name: "minified", encode: encodeMinified, decode: c.decodeMinified},
	}
}

// EncodeItem describes one stack. An empty stack has no description.
func (c *Codec) EncodeItem(it *entity.Item) *descriptor.Descriptor {
	if it == nil {
		return nil
	}
	if it.Count <= 0 {
		c.entityFault("item", it.Def, fmt.Errorf("%w: count %d", ErrEmptyStack, it.Count))
		return nil
	}
	d := descriptor.New(descriptor.VariantItem)
	encodeAttrs(c, it.Def, c.itemAttrs, it, d)
	return d
}

// DecodeItem rebuilds a stack. It returns nil when the def is missing or
// unknown, the material is unknown, or the quantity is missing or zero.
func (c *Codec) DecodeItem(d *descriptor.Descriptor) *entity.Item {
	if d == nil {
		return nil
	}
	def, _, err := getString(d, descriptor.FieldDef)
	if err == nil && def == "" {
		err = fmt.Errorf("missing def")
	}
	if err != nil {
		c.entityFault("item", "", err)
		return nil
	}
	qty, ok, err := getInt(d, descriptor.FieldQuantity)
	if err == nil && (!ok || qty <= 0) {
		err = fmt.Errorf("%w: quantity %d", ErrEmptyStack, qty)
	}
	if err != nil {
		c.entityFault("item", def, err)
		return nil
	}
	material, _, err := getString(d, descriptor.FieldMaterial)
	if err != nil {
		c.entityFault("item", def, err)
		return nil
	}
	if material != "" {
		if err := c.cat.Check(catalogs.DefMaterial, material); err != nil {
			c.entityFault("item", def, err)
			return nil
		}
	}
	it, err := c.cat.NewItem(def, material)
	if err != nil {
		c.entityFault("item", def, err)
		return nil
	}
	decodeAttrs(c, def, c.itemAttrs, d, it)
	return it
}

func encodeQuantity(it *entity.Item) (staged, error) {
	return staged{descriptor.FieldQuantity: descriptor.Int(int64(it.Count))}, nil
}

func decodeQuantity(d *descriptor.Descriptor, it *entity.Item) error {
	n, ok, err := getInt(d, descriptor.FieldQuantity)
	if err != nil || !ok {
		return err
	}
	it.Count = int(n)
	return nil
}

// Items without a quality tier carry Absent rather than a number.
func encodeQuality(it *entity.Item) (staged, error) {
	if it.Quality == entity.QualityNone {
		return nil, nil
	}
	if !it.Quality.Valid() {
		return nil, fmt.Errorf("quality %d out of range", it.Quality)
	}
	return staged{descriptor.FieldQuality: descriptor.Int(int64(it.Quality))}, nil
}

func (c *Codec) decodeQuality(d *descriptor.Descriptor, it *entity.Item) error {
	q, ok, err := getInt(d, descriptor.FieldQuality)
	if err != nil || !ok {
		return err
	}
	if def, _ := c.cat.Item(it.Def); !def.Quality {
		return nil
	}
	if !entity.Quality(q).Valid() {
		return fmt.Errorf("quality %d out of range", q)
	}
	it.Quality = entity.Quality(q)
	return nil
}

func encodeHitPoints(it *entity.Item) (staged, error) {
	return staged{descriptor.FieldHitPoints: descriptor.Int(int64(it.HitPoints))}, nil
}

func (c *Codec) decodeHitPoints(d *descriptor.Descriptor, it *entity.Item) error {
	hp, ok, err := getInt(d, descriptor.FieldHitPoints)
	if err != nil || !ok {
		return err
	}
	def, _ := c.cat.Item(it.Def)
	if hp <= 0 || (def.MaxHitPoints > 0 && int(hp) > def.MaxHitPoints) {
		return fmt.Errorf("hit points %d out of range", hp)
	}
	it.HitPoints = int(hp)
	return nil
}

func encodeRotation(it *entity.Item) (staged, error) {
	if !it.Rot.Valid() {
		return nil, fmt.Errorf("rotation %d out of range", it.Rot)
	}
	return staged{descriptor.FieldRotation: descriptor.Int(int64(it.Rot))}, nil
}

func decodeRotation(d *descriptor.Descriptor, it *entity.Item) error {
	r, ok, err := getInt(d, descriptor.FieldRotation)
	if err != nil || !ok {
		return err
	}
	if !entity.Rot4(r).Valid() {
		return fmt.Errorf("rotation %d out of range", r)
	}
	it.Rot = entity.Rot4(r)
	return nil
}

func encodeMinified(it *entity.Item) (staged, error) {
	return staged{descriptor.FieldMinified: descriptor.Bool(it.Minified)}, nil
}

func (c *Codec) decodeMinified(d *descriptor.Descriptor, it *entity.Item) error {
	m, ok, err := getBool(d, descriptor.FieldMinified)
	if err != nil || !ok || !m {
		return err
	}
	if def, _ := c.cat.Item(it.Def); !def.Minifiable {
		return fmt.Errorf("%s is not minifiable", it.Def)
	}
	it.Minified = true
	return nil
}
