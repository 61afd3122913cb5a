package entity

import "fmt"

// Quality is an ordinal quality tier. QualityNone marks items that carry no
// quality at all.
type Quality int

const (
	QualityNone Quality = iota - 1
	QualityAwful
	QualityPoor
	QualityNormal
	QualityGood
	QualityExcellent
	QualityMasterwork
	QualityLegendary
)

func (q Quality) Valid() bool { return q >= QualityAwful && q <= QualityLegendary }

type Item struct {
	Def       string
	Material  string // empty: not made from a material
	Count     int
	Quality   Quality
	HitPoints int
	Pos       Vec3i
	Rot       Rot4
	Minified  bool
	// Haulable items are movable loot; non-haulable ones are part of the
	// environment (walls, plants, chunks).
	Haulable bool

	Owner Faction
}

func (it *Item) Kind() Kind           { return KindItem }
func (it *Item) Position() Vec3i      { return it.Pos }
func (it *Item) SetPosition(p Vec3i)  { it.Pos = p }
func (it *Item) Faction() Faction     { return it.Owner }
func (it *Item) SetFaction(f Faction) { it.Owner = f }
func (it *Item) Label() string {
	if it.Material != "" {
		return fmt.Sprintf("%s %s x%d", it.Material, it.Def, it.Count)
	}
	return fmt.Sprintf("%s x%d", it.Def, it.Count)
}
