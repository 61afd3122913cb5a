package descriptor

import (
	"errors"
	"fmt"
)

var (
	// ErrAbsent is returned by typed accessors when the field carries the
	// absent sentinel.
	ErrAbsent = errors.New("absent")

	ErrUnknownVariant = errors.New("unknown descriptor variant")
	ErrUnknownField   = errors.New("unknown descriptor field")
)

// FieldFault records a field that could not be parsed from its wire text and
// was left absent.
type FieldFault struct {
	Field string
	Err   error
}

func (f FieldFault) Error() string { return f.Field + ": " + f.Err.Error() }

// Descriptor is a flat record of named typed values. Every field in the
// variant's schema is present; failed or unknown fields hold Absent.
type Descriptor struct {
	variant Variant
	fields  map[string]Value
	faults  []FieldFault
}

// New returns a descriptor with every schema field set to Absent. It panics
// on an unknown variant, which is a programming error.
func New(v Variant) *Descriptor {
	schema, ok := schemas[v]
	if !ok {
		panic(fmt.Sprintf("descriptor: unknown variant %q", v))
	}
	d := &Descriptor{variant: v, fields: make(map[string]Value, len(schema))}
	for _, f := range schema {
		d.fields[f.Name] = Absent()
	}
	return d
}

func (d *Descriptor) Variant() Variant { return d.variant }

// Fields returns the schema in declaration order.
func (d *Descriptor) Fields() []Field { return schemas[d.variant] }

// Set stores v under name after checking it against the schema. Absent is
// always accepted.
func (d *Descriptor) Set(name string, v Value) error {
	t, ok := fieldType(d.variant, name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, d.variant, name)
	}
	if err := conforms(v, t); err != nil {
		return fmt.Errorf("%s.%s: %w", d.variant, name, err)
	}
	d.fields[name] = v
	return nil
}

// Get returns the value stored under name, or Absent for unknown names.
func (d *Descriptor) Get(name string) Value {
	if d == nil {
		return Absent()
	}
	v, ok := d.fields[name]
	if !ok {
		return Absent()
	}
	return v
}

// Faults lists fields that were dropped to Absent while parsing wire text.
func (d *Descriptor) Faults() []FieldFault {
	if d == nil {
		return nil
	}
	return append([]FieldFault(nil), d.faults...)
}

// AbsentCount reports how many top-level fields are Absent.
func (d *Descriptor) AbsentCount() int {
	n := 0
	for _, f := range d.Fields() {
		if d.fields[f.Name].IsAbsent() {
			n++
		}
	}
	return n
}

func (d *Descriptor) Equal(o *Descriptor) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.variant != o.variant {
		return false
	}
	for _, f := range d.Fields() {
		if !d.fields[f.Name].Equal(o.fields[f.Name]) {
			return false
		}
	}
	return true
}

func (d *Descriptor) fault(field string, err error) {
	d.faults = append(d.faults, FieldFault{Field: field, Err: err})
}

func conforms(v Value, t Type) error {
	if v.IsAbsent() {
		return nil
	}
	switch t.Kind {
	case KindList:
		if v.Kind() != KindList {
			break
		}
		for i, e := range v.list {
			if err := conforms(e, *t.Elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case KindNested:
		if v.Kind() != KindNested {
			break
		}
		if v.nested.variant != t.Variant {
			return fmt.Errorf("nested %s, want %s", v.nested.variant, t.Variant)
		}
		return nil
	default:
		if v.Kind() == t.Kind {
			return nil
		}
	}
	return fmt.Errorf("value is %s, want %s", v.Kind(), t.Kind)
}
