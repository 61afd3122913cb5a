package scribe

import (
	"fmt"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/sim/entity"
)

// The get helpers report ok=false for Absent and an error for a value of the
// wrong kind.

func getString(d *descriptor.Descriptor, name string) (string, bool, error) {
	v := d.Get(name)
	if v.IsAbsent() {
		return "", false, nil
	}
	s, err := v.AsString()
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", name, err)
	}
	return s, true, nil
}

func getInt(d *descriptor.Descriptor, name string) (int64, bool, error) {
	v := d.Get(name)
	if v.IsAbsent() {
		return 0, false, nil
	}
	n, err := v.AsInt()
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", name, err)
	}
	return n, true, nil
}

func getFloat(d *descriptor.Descriptor, name string) (float64, bool, error) {
	v := d.Get(name)
	if v.IsAbsent() {
		return 0, false, nil
	}
	f, err := v.AsFloat()
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", name, err)
	}
	return f, true, nil
}

func getBool(d *descriptor.Descriptor, name string) (bool, bool, error) {
	v := d.Get(name)
	if v.IsAbsent() {
		return false, false, nil
	}
	b, err := v.AsBool()
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", name, err)
	}
	return b, true, nil
}

func getList(d *descriptor.Descriptor, name string) ([]descriptor.Value, bool, error) {
	v := d.Get(name)
	if v.IsAbsent() {
		return nil, false, nil
	}
	l, err := v.AsList()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", name, err)
	}
	return l, true, nil
}

func getStrings(d *descriptor.Descriptor, name string) ([]string, bool, error) {
	v := d.Get(name)
	if v.IsAbsent() {
		return nil, false, nil
	}
	ss, err := v.AsStrings()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", name, err)
	}
	return ss, true, nil
}

func getNested(d *descriptor.Descriptor, name string) (*descriptor.Descriptor, bool, error) {
	v := d.Get(name)
	if v.IsAbsent() {
		return nil, false, nil
	}
	nd, err := v.AsNested()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", name, err)
	}
	return nd, true, nil
}

func getColor(d *descriptor.Descriptor, name string) (entity.Color, bool, error) {
	v := d.Get(name)
	if v.IsAbsent() {
		return entity.Color{}, false, nil
	}
	fs, err := v.AsFloats()
	if err != nil {
		return entity.Color{}, false, fmt.Errorf("%s: %w", name, err)
	}
	if len(fs) != 4 {
		return entity.Color{}, false, fmt.Errorf("%s: %d channels, want 4", name, len(fs))
	}
	return entity.Color{R: fs[0], G: fs[1], B: fs[2], A: fs[3]}, true, nil
}

func colorValue(c entity.Color) descriptor.Value {
	return descriptor.Floats(c.R, c.G, c.B, c.A)
}

func getPos(d *descriptor.Descriptor) (entity.Vec3i, bool, error) {
	v := d.Get(descriptor.FieldPosition)
	if v.IsAbsent() {
		return entity.Vec3i{}, false, nil
	}
	ns, err := v.AsInts()
	if err != nil {
		return entity.Vec3i{}, false, fmt.Errorf("position: %w", err)
	}
	if len(ns) != 3 {
		return entity.Vec3i{}, false, fmt.Errorf("position: %d coords, want 3", len(ns))
	}
	return entity.Vec3i{X: ns[0], Y: ns[1], Z: ns[2]}, true, nil
}

func posValue(p entity.Vec3i) descriptor.Value { return descriptor.Ints(p.X, p.Y, p.Z) }

func encodePosition[T entity.Entity](e T) (staged, error) {
	return staged{descriptor.FieldPosition: posValue(e.Position())}, nil
}

func decodePosition[T entity.Entity](d *descriptor.Descriptor, e T) error {
	p, ok, err := getPos(d)
	if err != nil || !ok {
		return err
	}
	e.SetPosition(p)
	return nil
}

// identity covers the fields agents and creatures share.
type identity struct {
	name      *string
	bioAge    *int64
	chronoAge *int64
	gender    *entity.Gender
}

func identityFields(name string, bio, chrono int64, g entity.Gender) staged {
	return staged{
		descriptor.FieldName:      descriptor.String(name),
		descriptor.FieldBioAge:    descriptor.Int(bio),
		descriptor.FieldChronoAge: descriptor.Int(chrono),
		descriptor.FieldGender:    descriptor.String(string(g)),
	}
}

func (id identity) apply(d *descriptor.Descriptor) error {
	name, hasName, err := getString(d, descriptor.FieldName)
	if err != nil {
		return err
	}
	bio, hasBio, err := getInt(d, descriptor.FieldBioAge)
	if err != nil {
		return err
	}
	chrono, hasChrono, err := getInt(d, descriptor.FieldChronoAge)
	if err != nil {
		return err
	}
	gs, hasGender, err := getString(d, descriptor.FieldGender)
	if err != nil {
		return err
	}
	var g entity.Gender
	if hasGender {
		if g, err = entity.ParseGender(gs); err != nil {
			return err
		}
	}
	if bio < 0 || chrono < 0 {
		return fmt.Errorf("negative age")
	}
	if hasName {
		*id.name = name
	}
	if hasBio {
		*id.bioAge = bio
	}
	if hasChrono {
		*id.chronoAge = chrono
	}
	if hasGender {
		*id.gender = g
	}
	return nil
}
