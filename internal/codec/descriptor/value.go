package descriptor

import "fmt"

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindList
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindNested:
		return "nested"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a typed descriptor field. The zero Value is Absent.
type Value struct {
	kind   Kind
	i      int64
	f      float64
	b      bool
	s      string
	list   []Value
	nested *Descriptor
}

func Absent() Value          { return Value{} }
func Int(v int64) Value      { return Value{kind: KindInt, i: v} }
func Float(v float64) Value  { return Value{kind: KindFloat, f: v} }
func Bool(v bool) Value      { return Value{kind: KindBool, b: v} }
func String(v string) Value  { return Value{kind: KindString, s: v} }
func List(vs ...Value) Value { return Value{kind: KindList, list: append([]Value{}, vs...)} }
func Nested(d *Descriptor) Value {
	if d == nil {
		return Absent()
	}
	return Value{kind: KindNested, nested: d}
}

func Strings(ss []string) Value {
	out := make([]Value, len(ss))
	for i, s := range ss {
		out[i] = String(s)
	}
	return Value{kind: KindList, list: out}
}

func Ints(vs ...int) Value {
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = Int(int64(v))
	}
	return Value{kind: KindList, list: out}
}

func Floats(vs ...float64) Value {
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = Float(v)
	}
	return Value{kind: KindList, list: out}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, v.mismatch(KindInt)
	}
	return v.i, nil
}

func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindFloat:
		return v.f, nil
	case KindInt:
		return float64(v.i), nil
	}
	return 0, v.mismatch(KindFloat)
}

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch(KindBool)
	}
	return v.b, nil
}

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.s, nil
}

func (v Value) AsList() ([]Value, error) {
	if v.kind != KindList {
		return nil, v.mismatch(KindList)
	}
	return v.list, nil
}

func (v Value) AsNested() (*Descriptor, error) {
	if v.kind != KindNested {
		return nil, v.mismatch(KindNested)
	}
	return v.nested, nil
}

// AsStrings returns a list of strings; any non-string element is an error.
func (v Value) AsStrings() ([]string, error) {
	list, err := v.AsList()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(list))
	for i, e := range list {
		s, err := e.AsString()
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

func (v Value) AsInts() ([]int, error) {
	list, err := v.AsList()
	if err != nil {
		return nil, err
	}
	out := make([]int, len(list))
	for i, e := range list {
		n, err := e.AsInt()
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = int(n)
	}
	return out, nil
}

func (v Value) AsFloats() ([]float64, error) {
	list, err := v.AsList()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(list))
	for i, e := range list {
		f, err := e.AsFloat()
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}

func (v Value) mismatch(want Kind) error {
	if v.kind == KindAbsent {
		return ErrAbsent
	}
	return fmt.Errorf("value is %s, want %s", v.kind, want)
}

// Equal reports deep equality, sentinel for sentinel.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindAbsent:
		return true
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindNested:
		return v.nested.Equal(o.nested)
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindAbsent:
		return sentinel
	case KindList:
		return fmt.Sprintf("%v", v.list)
	case KindNested:
		return fmt.Sprintf("{%s}", v.nested.Variant())
	}
	return formatScalar(v)
}
