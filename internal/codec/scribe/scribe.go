// Package scribe converts live entities to descriptors and back. Every
// attribute is converted independently: a failing attribute is logged and
// left absent, and the rest of the entity still goes through.
package scribe

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/sim/catalogs"
	"caravan.ai/internal/sim/entity"
)

// DefaultLootKeepProbability is the chance that a loot stack survives
// thinning on region decode.
const DefaultLootKeepProbability = 0.30

type Outcome uint8

const (
	Applied Outcome = iota
	Ignored
)

// Result is what attempt reports for one attribute.
type Result struct {
	Attribute string
	Outcome   Outcome
	Err       error
}

// staged holds the fields an extractor produced. They are committed to the
// descriptor together or not at all.
type staged map[string]descriptor.Value

type attribute[T any] struct {
	name   string
	encode func(T) (staged, error)
	decode func(*descriptor.Descriptor, T) error
}

type Codec struct {
	cat *catalogs.Catalog
	log *zap.Logger
	rnd *rand.Rand

	agentAttrs    []attribute[*entity.Agent]
	creatureAttrs []attribute[*entity.Creature]
	itemAttrs     []attribute[*entity.Item]
}

func New(cat *catalogs.Catalog, logger *zap.Logger) *Codec {
	if cat == nil {
		cat = catalogs.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Codec{
		cat: cat,
		log: logger.Named("scribe"),
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.agentAttrs = c.agentAttributes()
	c.creatureAttrs = c.creatureAttributes()
	c.itemAttrs = c.itemAttributes()
	return c
}

func (c *Codec) Catalog() *catalogs.Catalog { return c.cat }

// attempt runs fn, turning a returned error or a panic into an Ignored
// result logged at WARN.
func (c *Codec) attempt(label, name string, fn func() error) (res Result) {
	res = Result{Attribute: name, Outcome: Applied}
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = Ignored
			res.Err = fmt.Errorf("panic: %v", r)
		}
		if res.Outcome == Ignored {
			c.log.Warn("attribute ignored",
				zap.String("entity", label),
				zap.String("attribute", name),
				zap.Error(res.Err))
		}
	}()
	if err := fn(); err != nil {
		res.Outcome = Ignored
		res.Err = err
	}
	return res
}

func (c *Codec) entityFault(kind string, label string, err error) {
	c.log.Error("entity skipped",
		zap.String("kind", kind),
		zap.String("entity", label),
		zap.Error(err))
}

func encodeAttrs[T any](c *Codec, label string, attrs []attribute[T], e T, d *descriptor.Descriptor) {
	for _, a := range attrs {
		if a.encode == nil {
			continue
		}
		a := a
		c.attempt(label, a.name, func() error {
			vals, err := a.encode(e)
			if err != nil {
				return err
			}
			return commit(d, vals)
		})
	}
}

func decodeAttrs[T any](c *Codec, label string, attrs []attribute[T], d *descriptor.Descriptor, e T) {
	for _, a := range attrs {
		if a.decode == nil {
			continue
		}
		a := a
		c.attempt(label, a.name, func() error { return a.decode(d, e) })
	}
}

func commit(d *descriptor.Descriptor, vals staged) error {
	var done []string
	for name, v := range vals {
		if err := d.Set(name, v); err != nil {
			for _, n := range done {
				_ = d.Set(n, descriptor.Absent())
			}
			return err
		}
		done = append(done, name)
	}
	return nil
}

// eachNested applies fn to every element of a list field, each element in
// its own attempt. An absent list is skipped.
func (c *Codec) eachNested(label, attr string, d *descriptor.Descriptor, field string, fn func(*descriptor.Descriptor) error) error {
	list, ok, err := getList(d, field)
	if err != nil || !ok {
		return err
	}
	for i, v := range list {
		v := v
		c.attempt(label, fmt.Sprintf("%s[%d]", attr, i), func() error {
			nd, err := v.AsNested()
			if err != nil {
				return err
			}
			return fn(nd)
		})
	}
	return nil
}

// Encode dispatches on the entity kind. A nil result means the entity
// itself could not be described.
func (c *Codec) Encode(e entity.Entity) *descriptor.Descriptor {
	switch v := e.(type) {
	case *entity.Agent:
		return c.EncodeAgent(v)
	case *entity.Creature:
		return c.EncodeCreature(v)
	case *entity.Item:
		return c.EncodeItem(v)
	case nil:
		return nil
	}
	c.entityFault("unknown", e.Label(), fmt.Errorf("unsupported entity %T", e))
	return nil
}

// Decode dispatches on the descriptor variant.
func (c *Codec) Decode(d *descriptor.Descriptor) entity.Entity {
	if d == nil {
		return nil
	}
	switch d.Variant() {
	case descriptor.VariantAgent:
		if a := c.DecodeAgent(d); a != nil {
			return a
		}
	case descriptor.VariantCreature:
		if cr := c.DecodeCreature(d); cr != nil {
			return cr
		}
	case descriptor.VariantItem:
		if it := c.DecodeItem(d); it != nil {
			return it
		}
	default:
		c.entityFault(string(d.Variant()), "", fmt.Errorf("variant is not an entity"))
	}
	return nil
}

// EncodeBatch encodes every entity, dropping the ones that fail as a whole.
func (c *Codec) EncodeBatch(es []entity.Entity) []*descriptor.Descriptor {
	out := make([]*descriptor.Descriptor, 0, len(es))
	for _, e := range es {
		if d := c.Encode(e); d != nil {
			out = append(out, d)
		}
	}
	return out
}

// DecodeBatch decodes every descriptor; entity faults are logged and
// skipped.
func (c *Codec) DecodeBatch(ds []*descriptor.Descriptor) []entity.Entity {
	out := make([]entity.Entity, 0, len(ds))
	for _, d := range ds {
		if e := c.Decode(d); e != nil {
			out = append(out, e)
		}
	}
	return out
}
