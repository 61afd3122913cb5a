package scribe

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/sim/catalogs"
	"caravan.ai/internal/sim/encoding"
	"caravan.ai/internal/sim/entity"
)

var ErrBadRegion = errors.New("bad region descriptor")

// RegionEncodeOptions select which contents travel with a region. Terrain,
// roofs and environment items always do.
type RegionEncodeOptions struct {
	ContainsAgents    bool
	ContainsCreatures bool
	ContainsItems     bool
}

type RegionDecodeOptions struct {
	ContainsItems bool
	// LessLoot thins loot stacks, keeping each with LootKeepProbability.
	LessLoot            bool
	LootKeepProbability float64
	// Owned is assigned to the sender's own agents and creatures, Other to
	// everyone else. Defaults: neutral player and online player.
	Owned entity.Faction
	Other entity.Faction
	Rand  *rand.Rand
}

func (o RegionDecodeOptions) withDefaults(fallback *rand.Rand) RegionDecodeOptions {
	if o.LootKeepProbability <= 0 || o.LootKeepProbability > 1 {
		o.LootKeepProbability = DefaultLootKeepProbability
	}
	if o.Owned == entity.FactionNone {
		o.Owned = entity.FactionNeutral
	}
	if o.Other == entity.FactionNone {
		o.Other = entity.FactionOnline
	}
	if o.Rand == nil {
		o.Rand = fallback
	}
	return o
}

// EncodeRegion partitions the region's contents by category and ownership:
// agents and creatures by whether they belong to the local player, items by
// whether they are haulable loot or part of the environment. Things outside
// the grid are skipped.
func (c *Codec) EncodeRegion(r *entity.Region, opts RegionEncodeOptions) *descriptor.Descriptor {
	if r == nil {
		return nil
	}
	if r.Size.X <= 0 || r.Size.Z <= 0 || len(r.Terrain) != r.Size.X*r.Size.Z {
		c.entityFault("region", r.ID, fmt.Errorf("%w: size %s with %d cells", ErrBadRegion, r.Size, len(r.Terrain)))
		return nil
	}
	d := descriptor.New(descriptor.VariantRegion)
	_ = d.Set(descriptor.FieldLocation, descriptor.String(r.ID))
	_ = d.Set(descriptor.FieldSize, descriptor.Ints(r.Size.X, r.Size.Y, r.Size.Z))

	c.attempt(r.ID, "terrain", func() error {
		return encodeGrid(d, r.Terrain, descriptor.FieldTerrainPalette, descriptor.FieldTerrainCells)
	})
	c.attempt(r.ID, "roofs", func() error {
		roofs := r.Roofs
		if len(roofs) != len(r.Terrain) {
			return fmt.Errorf("%d roof cells for %d terrain cells", len(roofs), len(r.Terrain))
		}
		return encodeGrid(d, roofs, descriptor.FieldRoofPalette, descriptor.FieldRoofCells)
	})

	var agents, playerAgents, creatures, playerCreatures, items, loot []descriptor.Value
	for _, t := range r.Things {
		if !r.InBounds(t.Position()) {
			c.log.Warn("thing outside region skipped",
				zap.String("region", r.ID),
				zap.String("entity", t.Label()),
				zap.Stringer("position", t.Position()))
			continue
		}
		switch v := t.(type) {
		case *entity.Agent:
			if !opts.ContainsAgents {
				continue
			}
			if ed := c.EncodeAgent(v); ed != nil {
				if v.Owner == entity.FactionPlayer {
					playerAgents = append(playerAgents, descriptor.Nested(ed))
				} else {
					agents = append(agents, descriptor.Nested(ed))
				}
			}
		case *entity.Creature:
			if !opts.ContainsCreatures {
				continue
			}
			if ed := c.EncodeCreature(v); ed != nil {
				if v.Owner == entity.FactionPlayer {
					playerCreatures = append(playerCreatures, descriptor.Nested(ed))
				} else {
					creatures = append(creatures, descriptor.Nested(ed))
				}
			}
		case *entity.Item:
			if v.Haulable && !opts.ContainsItems {
				continue
			}
			if ed := c.EncodeItem(v); ed != nil {
				if v.Haulable {
					loot = append(loot, descriptor.Nested(ed))
				} else {
					items = append(items, descriptor.Nested(ed))
				}
			}
		}
	}
	_ = d.Set(descriptor.FieldAgents, descriptor.List(agents...))
	_ = d.Set(descriptor.FieldPlayerAgents, descriptor.List(playerAgents...))
	_ = d.Set(descriptor.FieldCreatures, descriptor.List(creatures...))
	_ = d.Set(descriptor.FieldPlayerCreatures, descriptor.List(playerCreatures...))
	_ = d.Set(descriptor.FieldItems, descriptor.List(items...))
	_ = d.Set(descriptor.FieldLoot, descriptor.List(loot...))
	return d
}

func encodeGrid(d *descriptor.Descriptor, cells []string, paletteField, cellsField string) error {
	palette, rle, err := encoding.EncodePalette(cells)
	if err != nil {
		return err
	}
	return commit(d, staged{
		paletteField: descriptor.Strings(palette),
		cellsField:   descriptor.String(rle),
	})
}

// DecodeRegion rebuilds a region and its contents. Only a missing location
// or size fails the whole region; terrain, roofs and every thing are
// restored best effort.
func (c *Codec) DecodeRegion(d *descriptor.Descriptor, opts RegionDecodeOptions) (*entity.Region, error) {
	if d == nil || d.Variant() != descriptor.VariantRegion {
		return nil, fmt.Errorf("%w: not a region", ErrBadRegion)
	}
	opts = opts.withDefaults(c.rnd)
	id, _, err := getString(d, descriptor.FieldLocation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRegion, err)
	}
	dims, err := d.Get(descriptor.FieldSize).AsInts()
	if err != nil || len(dims) != 3 || dims[0] <= 0 || dims[2] <= 0 {
		return nil, fmt.Errorf("%w: size %v", ErrBadRegion, d.Get(descriptor.FieldSize))
	}
	r := entity.NewRegion(id, entity.Vec3i{X: dims[0], Y: dims[1], Z: dims[2]}, c.cat.DefaultTerrain)

	c.attempt(id, "terrain", func() error {
		return c.decodeGrid(d, r.Terrain, descriptor.FieldTerrainPalette, descriptor.FieldTerrainCells, catalogs.DefTerrain, id)
	})
	c.attempt(id, "roofs", func() error {
		return c.decodeGrid(d, r.Roofs, descriptor.FieldRoofPalette, descriptor.FieldRoofCells, catalogs.DefRoof, id)
	})

	place := func(e entity.Entity, f entity.Faction) {
		if !r.InBounds(e.Position()) {
			c.entityFault(string(e.Kind()), e.Label(), fmt.Errorf("position %s outside region %s", e.Position(), id))
			return
		}
		e.SetFaction(f)
		r.Add(e)
	}
	c.eachEntity(d, descriptor.FieldAgents, func(e entity.Entity) { place(e, opts.Other) })
	c.eachEntity(d, descriptor.FieldPlayerAgents, func(e entity.Entity) { place(e, opts.Owned) })
	c.eachEntity(d, descriptor.FieldCreatures, func(e entity.Entity) { place(e, opts.Other) })
	c.eachEntity(d, descriptor.FieldPlayerCreatures, func(e entity.Entity) { place(e, opts.Owned) })
	c.eachEntity(d, descriptor.FieldItems, func(e entity.Entity) { place(e, entity.FactionNone) })
	if opts.ContainsItems {
		c.eachEntity(d, descriptor.FieldLoot, func(e entity.Entity) {
			if opts.LessLoot && opts.Rand.Float64() >= opts.LootKeepProbability {
				return
			}
			place(e, opts.Owned)
		})
	}
	return r, nil
}

// decodeGrid fills dst from palette + RLE. Cells whose palette entry is not
// in the catalog keep their current value.
func (c *Codec) decodeGrid(d *descriptor.Descriptor, dst []string, paletteField, cellsField string, kind catalogs.DefKind, label string) error {
	palette, ok, err := getStrings(d, paletteField)
	if err != nil || !ok {
		return err
	}
	rle, ok, err := getString(d, cellsField)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: missing", cellsField)
	}
	cells, err := encoding.DecodePalette(palette, rle, len(dst))
	if err != nil {
		return err
	}
	var unknown []string
	valid := make(map[string]bool, len(palette))
	for _, p := range palette {
		valid[p] = (p == "" && kind == catalogs.DefRoof) || c.cat.Has(kind, p)
		if !valid[p] {
			unknown = append(unknown, p)
		}
	}
	for i, cell := range cells {
		if valid[cell] {
			dst[i] = cell
		}
	}
	if len(unknown) > 0 {
		c.log.Warn("unknown grid defs kept at default",
			zap.String("region", label),
			zap.String("kind", string(kind)),
			zap.String("defs", strings.Join(unknown, ",")))
	}
	return nil
}

func (c *Codec) eachEntity(d *descriptor.Descriptor, field string, fn func(entity.Entity)) {
	list, ok, err := getList(d, field)
	if err != nil {
		c.log.Warn("attribute ignored", zap.String("attribute", field), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	for _, v := range list {
		nd, err := v.AsNested()
		if err != nil {
			c.entityFault(field, "", err)
			continue
		}
		if e := c.Decode(nd); e != nil {
			fn(e)
		}
	}
}
