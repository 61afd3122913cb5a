package descriptor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// sentinel is the wire text of an absent field. A string field whose value
// is literally "null" decodes as absent.
const sentinel = "null"

var errMissing = errors.New("missing")

func formatScalar(v Value) string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	}
	return sentinel
}

func parseScalar(text string, k Kind) (Value, error) {
	switch k {
	case KindInt:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Absent(), err
		}
		return Int(n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Absent(), err
		}
		return Float(f), nil
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Absent(), err
		}
		return Bool(b), nil
	case KindString:
		return String(text), nil
	}
	return Absent(), fmt.Errorf("kind %s is not scalar", k)
}

type wireDescriptor struct {
	Variant Variant                    `json:"variant"`
	Fields  map[string]json.RawMessage `json:"fields"`
}

// MarshalJSON writes every schema field. Scalars become text, Absent becomes
// the "null" sentinel string, lists become arrays and nested descriptors
// become objects.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	w := wireDescriptor{Variant: d.variant, Fields: make(map[string]json.RawMessage, len(d.fields))}
	for _, f := range d.Fields() {
		raw, err := marshalValue(d.fields[f.Name])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.variant, f.Name, err)
		}
		w.Fields[f.Name] = raw
	}
	return json.Marshal(w)
}

func marshalValue(v Value) (json.RawMessage, error) {
	switch v.kind {
	case KindList:
		parts := make([]json.RawMessage, len(v.list))
		for i, e := range v.list {
			raw, err := marshalValue(e)
			if err != nil {
				return nil, err
			}
			parts[i] = raw
		}
		return json.Marshal(parts)
	case KindNested:
		return v.nested.MarshalJSON()
	}
	return json.Marshal(formatScalar(v))
}

// UnmarshalJSON rebuilds a descriptor from wire text. Only an unreadable
// envelope or an unknown variant fails the call; a field that does not parse
// is left Absent and recorded in Faults.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var w wireDescriptor
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	schema, ok := schemas[w.Variant]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVariant, w.Variant)
	}
	*d = *New(w.Variant)
	for _, f := range schema {
		raw, ok := w.Fields[f.Name]
		if !ok {
			d.fault(f.Name, errMissing)
			continue
		}
		d.fields[f.Name] = d.parseValue(f.Name, raw, f.Type)
	}
	return nil
}

func (d *Descriptor) parseValue(path string, raw json.RawMessage, t Type) Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Absent()
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			d.fault(path, err)
			return Absent()
		}
		if text == sentinel {
			return Absent()
		}
		if t.Kind == KindList || t.Kind == KindNested {
			d.fault(path, fmt.Errorf("text %q where %s expected", text, t.Kind))
			return Absent()
		}
		v, err := parseScalar(text, t.Kind)
		if err != nil {
			d.fault(path, err)
			return Absent()
		}
		return v
	}
	switch t.Kind {
	case KindList:
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			d.fault(path, err)
			return Absent()
		}
		out := make([]Value, len(parts))
		for i, p := range parts {
			out[i] = d.parseValue(fmt.Sprintf("%s[%d]", path, i), p, *t.Elem)
		}
		return Value{kind: KindList, list: out}
	case KindNested:
		var nested Descriptor
		if err := json.Unmarshal(raw, &nested); err != nil {
			d.fault(path, err)
			return Absent()
		}
		if nested.variant != t.Variant {
			d.fault(path, fmt.Errorf("nested %s, want %s", nested.variant, t.Variant))
			return Absent()
		}
		for _, f := range nested.faults {
			d.fault(path+"."+f.Field, f.Err)
		}
		nested.faults = nil
		return Nested(&nested)
	}
	d.fault(path, fmt.Errorf("unexpected %s for %s", raw[:1], t.Kind))
	return Absent()
}
