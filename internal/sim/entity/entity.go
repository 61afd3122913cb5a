package entity

import "fmt"

type Kind string

const (
	KindAgent    Kind = "AGENT"
	KindCreature Kind = "CREATURE"
	KindItem     Kind = "ITEM"
)

// Faction identifies who owns an entity from the local peer's point of view.
type Faction string

const (
	FactionNone Faction = ""
	// FactionPlayer is the local player.
	FactionPlayer Faction = "PLAYER"
	// FactionOnline marks entities that belong to another connected player.
	FactionOnline Faction = "ONLINE_PLAYER"
	// FactionNeutral marks entities shown on behalf of a visited settlement.
	FactionNeutral Faction = "NEUTRAL_PLAYER"
	FactionWild    Faction = "WILD"
)

type Gender string

const (
	GenderNone   Gender = "None"
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
)

func ParseGender(s string) (Gender, error) {
	switch Gender(s) {
	case GenderNone, GenderMale, GenderFemale:
		return Gender(s), nil
	}
	return GenderNone, fmt.Errorf("unknown gender %q", s)
}

type Vec3i struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

func (v Vec3i) String() string { return fmt.Sprintf("%d|%d|%d", v.X, v.Y, v.Z) }

// Rot4 is a cardinal rotation (0=north, 1=east, 2=south, 3=west).
type Rot4 int

func (r Rot4) Valid() bool { return r >= 0 && r <= 3 }

// Entity is anything that can be placed in a region.
type Entity interface {
	Kind() Kind
	Position() Vec3i
	SetPosition(Vec3i)
	Faction() Faction
	SetFaction(Faction)
	Label() string
}
