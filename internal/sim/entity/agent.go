package entity

type Color struct {
	R float64 `yaml:"r"`
	G float64 `yaml:"g"`
	B float64 `yaml:"b"`
	A float64 `yaml:"a"`
}

type Passion string

const (
	PassionNone  Passion = "None"
	PassionMinor Passion = "Minor"
	PassionMajor Passion = "Major"
)

// Condition is a health condition, optionally bound to a body part.
type Condition struct {
	Def       string
	Part      string // empty: whole body
	Severity  float64
	Permanent bool
}

type Skill struct {
	Def     string
	Level   int
	Passion Passion
}

type Trait struct {
	Def    string
	Degree int
}

type Gene struct {
	Def       string
	Abilities []string
}

// Story holds backstory and body appearance.
type Story struct {
	Childhood     string
	Adulthood     string
	HairDef       string
	HeadType      string
	BodyType      string
	HairColor     Color
	SkinColor     Color
	FavoriteColor Color
}

type Style struct {
	BeardDef   string
	FaceTattoo string
	BodyTattoo string
}

type Genes struct {
	Xenotype       string
	CustomXenotype string
	Xenogenes      []Gene
	Endogenes      []string
}

type Worn struct {
	Item         *Item
	WornByCorpse bool
}

type Agent struct {
	Def            string
	Name           string
	BioAgeTicks    int64
	ChronoAgeTicks int64
	Gender         Gender

	// Story, Style and Genes are nil for agents whose runtime never
	// generated them.
	Story *Story
	Style *Style
	Genes *Genes

	Health    []Condition
	Skills    []Skill
	Traits    []Trait
	Apparel   []Worn
	Weapon    *Item
	Inventory []*Item

	Pos   Vec3i
	Owner Faction
}

func (a *Agent) Kind() Kind           { return KindAgent }
func (a *Agent) Position() Vec3i      { return a.Pos }
func (a *Agent) SetPosition(p Vec3i)  { a.Pos = p }
func (a *Agent) Faction() Faction     { return a.Owner }
func (a *Agent) SetFaction(f Faction) { a.Owner = f }
func (a *Agent) Label() string        { return a.Name }

type Trainable struct {
	Def      string
	CanTrain bool
	Learned  bool
	Wanted   bool
}

type Creature struct {
	Def            string
	Name           string
	BioAgeTicks    int64
	ChronoAgeTicks int64
	Gender         Gender

	Health   []Condition
	Training []Trainable

	Pos   Vec3i
	Owner Faction
}

func (c *Creature) Kind() Kind           { return KindCreature }
func (c *Creature) Position() Vec3i      { return c.Pos }
func (c *Creature) SetPosition(p Vec3i)  { c.Pos = p }
func (c *Creature) Faction() Faction     { return c.Owner }
func (c *Creature) SetFaction(f Faction) { c.Owner = f }
func (c *Creature) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Def
}
