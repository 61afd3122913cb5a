package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"caravan.ai/internal/sim/entity"
)

//go:embed default.yaml
var defaultYAML []byte

// DefKind names one of the definition tables.
type DefKind string

const (
	DefAgent     DefKind = "agent"
	DefItem      DefKind = "item"
	DefMaterial  DefKind = "material"
	DefCreature  DefKind = "creature"
	DefCondition DefKind = "condition"
	DefBodyPart  DefKind = "body_part"
	DefTrait     DefKind = "trait"
	DefSkill     DefKind = "skill"
	DefGene      DefKind = "gene"
	DefAbility   DefKind = "ability"
	DefXenotype  DefKind = "xenotype"
	DefBackstory DefKind = "backstory"
	DefTrainable DefKind = "trainable"
	DefTerrain   DefKind = "terrain"
	DefRoof      DefKind = "roof"
	DefHair      DefKind = "hair"
	DefHeadType  DefKind = "head_type"
	DefBeard     DefKind = "beard"
	DefBodyType  DefKind = "body_type"
	DefTattoo    DefKind = "tattoo"
)

type ItemDef struct {
	ID               string `yaml:"id"`
	Haulable         bool   `yaml:"haulable"`
	Stackable        bool   `yaml:"stackable"`
	Quality          bool   `yaml:"quality"`
	MadeFromMaterial bool   `yaml:"made_from_material"`
	MaxHitPoints     int    `yaml:"max_hit_points"`
	Minifiable       bool   `yaml:"minifiable"`
	Apparel          bool   `yaml:"apparel"`
	Weapon           bool   `yaml:"weapon"`
}

type ConditionDef struct {
	ID             string `yaml:"id"`
	CanBePermanent bool   `yaml:"can_be_permanent"`
}

type TraitDef struct {
	ID      string `yaml:"id"`
	Degrees []int  `yaml:"degrees"`
}

type file struct {
	DefaultTerrain string         `yaml:"default_terrain"`
	Agents         []string       `yaml:"agents"`
	Items          []ItemDef      `yaml:"items"`
	Materials      []string       `yaml:"materials"`
	Creatures      []string       `yaml:"creatures"`
	Conditions     []ConditionDef `yaml:"conditions"`
	BodyParts      []string       `yaml:"body_parts"`
	Traits         []TraitDef     `yaml:"traits"`
	Skills         []string       `yaml:"skills"`
	Genes          []string       `yaml:"genes"`
	Abilities      []string       `yaml:"abilities"`
	Xenotypes      []string       `yaml:"xenotypes"`
	Backstories    []string       `yaml:"backstories"`
	Trainables     []string       `yaml:"trainables"`
	Terrain        []string       `yaml:"terrain"`
	Roofs          []string       `yaml:"roofs"`
	Hair           []string       `yaml:"hair"`
	HeadTypes      []string       `yaml:"head_types"`
	Beards         []string       `yaml:"beards"`
	BodyTypes      []string       `yaml:"body_types"`
	Tattoos        []string       `yaml:"tattoos"`
}

// Catalog is the read-only set of definitions both peers resolve ids
// against. Peers with different digests cannot exchange entities reliably.
type Catalog struct {
	DefaultTerrain string

	Items      map[string]ItemDef
	Conditions map[string]ConditionDef
	Traits     map[string]TraitDef
	// Skills and Trainables are ordered; fresh entities carry one record per
	// entry in this order.
	Skills     []string
	Trainables []string

	sets map[DefKind]map[string]struct{}

	Digest string
}

func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("default catalog: %v", err))
	}
	return c
}

// Load reads a catalog file. An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	c := &Catalog{
		DefaultTerrain: f.DefaultTerrain,
		Items:          map[string]ItemDef{},
		Conditions:     map[string]ConditionDef{},
		Traits:         map[string]TraitDef{},
		Skills:         append([]string(nil), f.Skills...),
		Trainables:     append([]string(nil), f.Trainables...),
		sets:           map[DefKind]map[string]struct{}{},
		Digest:         sha256Hex(raw),
	}
	for _, d := range f.Items {
		if d.ID == "" {
			return nil, fmt.Errorf("items: empty id")
		}
		c.Items[d.ID] = d
		c.add(DefItem, d.ID)
	}
	for _, d := range f.Conditions {
		if d.ID == "" {
			return nil, fmt.Errorf("conditions: empty id")
		}
		c.Conditions[d.ID] = d
		c.add(DefCondition, d.ID)
	}
	for _, d := range f.Traits {
		if d.ID == "" {
			return nil, fmt.Errorf("traits: empty id")
		}
		c.Traits[d.ID] = d
		c.add(DefTrait, d.ID)
	}
	lists := map[DefKind][]string{
		DefAgent:     f.Agents,
		DefMaterial:  f.Materials,
		DefCreature:  f.Creatures,
		DefBodyPart:  f.BodyParts,
		DefSkill:     f.Skills,
		DefGene:      f.Genes,
		DefAbility:   f.Abilities,
		DefXenotype:  f.Xenotypes,
		DefBackstory: f.Backstories,
		DefTrainable: f.Trainables,
		DefTerrain:   f.Terrain,
		DefRoof:      f.Roofs,
		DefHair:      f.Hair,
		DefHeadType:  f.HeadTypes,
		DefBeard:     f.Beards,
		DefBodyType:  f.BodyTypes,
		DefTattoo:    f.Tattoos,
	}
	for kind, ids := range lists {
		for _, id := range ids {
			if id == "" {
				return nil, fmt.Errorf("%s: empty id", kind)
			}
			c.add(kind, id)
		}
	}
	if c.DefaultTerrain == "" && len(f.Terrain) > 0 {
		c.DefaultTerrain = f.Terrain[0]
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("agents: at least one agent def required")
	}
	return c, nil
}

func (c *Catalog) add(kind DefKind, id string) {
	s := c.sets[kind]
	if s == nil {
		s = map[string]struct{}{}
		c.sets[kind] = s
	}
	s[id] = struct{}{}
}

func (c *Catalog) Has(kind DefKind, id string) bool {
	_, ok := c.sets[kind][id]
	return ok
}

// Check returns an error naming the table when id is not defined.
func (c *Catalog) Check(kind DefKind, id string) error {
	if c.Has(kind, id) {
		return nil
	}
	return fmt.Errorf("unknown %s def %q", kind, id)
}

func (c *Catalog) Item(id string) (ItemDef, bool) {
	d, ok := c.Items[id]
	return d, ok
}

func (c *Catalog) first(kind DefKind, preferred string) string {
	if c.Has(kind, preferred) {
		return preferred
	}
	return ""
}

// NewAgent generates a fresh agent with catalog defaults: one zero-level
// skill record per catalog skill, no conditions, no gear.
func (c *Catalog) NewAgent(def string) (*entity.Agent, error) {
	if err := c.Check(DefAgent, def); err != nil {
		return nil, err
	}
	a := &entity.Agent{
		Def:    def,
		Gender: entity.GenderNone,
		Story: &entity.Story{
			HairColor:     entity.Color{A: 1},
			SkinColor:     entity.Color{A: 1},
			FavoriteColor: entity.Color{A: 1},
		},
		Style: &entity.Style{},
		Genes: &entity.Genes{Xenotype: c.first(DefXenotype, "Baseliner")},
		Owner: entity.FactionPlayer,
	}
	a.Skills = make([]entity.Skill, 0, len(c.Skills))
	for _, s := range c.Skills {
		a.Skills = append(a.Skills, entity.Skill{Def: s, Passion: entity.PassionNone})
	}
	return a, nil
}

func (c *Catalog) NewCreature(def string) (*entity.Creature, error) {
	if err := c.Check(DefCreature, def); err != nil {
		return nil, err
	}
	cr := &entity.Creature{
		Def:    def,
		Gender: entity.GenderNone,
		Owner:  entity.FactionPlayer,
	}
	cr.Training = make([]entity.Trainable, 0, len(c.Trainables))
	for _, t := range c.Trainables {
		cr.Training = append(cr.Training, entity.Trainable{Def: t})
	}
	return cr, nil
}

// NewItem makes a single-unit stack at full hit points. An unknown or empty
// material is dropped for defs that are not made from one.
func (c *Catalog) NewItem(def, material string) (*entity.Item, error) {
	d, ok := c.Items[def]
	if !ok {
		return nil, fmt.Errorf("unknown %s def %q", DefItem, def)
	}
	it := &entity.Item{
		Def:       def,
		Count:     1,
		Quality:   entity.QualityNone,
		HitPoints: d.MaxHitPoints,
		Haulable:  d.Haulable,
		Owner:     entity.FactionPlayer,
	}
	if d.Quality {
		it.Quality = entity.QualityNormal
	}
	if d.MadeFromMaterial && c.Has(DefMaterial, material) {
		it.Material = material
	}
	return it, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
