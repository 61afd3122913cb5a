package world

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"caravan.ai/internal/sim/entity"
)

// Fixture seeds a world: its caravan, settlements and starting stock.
type Fixture struct {
	Caravan     string           `yaml:"caravan"`
	Silver      int              `yaml:"silver"`
	Settlements []SettlementSpec `yaml:"settlements"`
	Stock       []StockSpec      `yaml:"stock"`
}

type SettlementSpec struct {
	ID           string        `yaml:"id"`
	Size         entity.Vec3i  `yaml:"size"`
	TransferSpot *entity.Vec3i `yaml:"transfer_spot,omitempty"`
}

// StockSpec is one starting entity. Exactly one of Agent, Creature or Item
// is set.
type StockSpec struct {
	Location string `yaml:"location"`
	Agent    string `yaml:"agent,omitempty"`
	Creature string `yaml:"creature,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Item     string `yaml:"item,omitempty"`
	Material string `yaml:"material,omitempty"`
	Count    int    `yaml:"count,omitempty"`
}

// LoadFixture reads a fixture file. An empty path yields a lone caravan
// named after the fallback id.
func LoadFixture(path, fallback string) (Fixture, error) {
	f := Fixture{Caravan: fallback}
	if strings.TrimSpace(path) == "" {
		return f, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("world fixture: %w", err)
	}
	if f.Caravan == "" {
		f.Caravan = fallback
	}
	if err := f.Validate(); err != nil {
		return f, fmt.Errorf("world fixture: %w", err)
	}
	return f, nil
}

func (f Fixture) Validate() error {
	if f.Caravan == "" {
		return fmt.Errorf("missing caravan id")
	}
	if f.Silver < 0 {
		return fmt.Errorf("negative silver")
	}
	seen := map[string]bool{f.Caravan: true}
	for _, s := range f.Settlements {
		if s.ID == "" {
			return fmt.Errorf("settlement with empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate location %q", s.ID)
		}
		seen[s.ID] = true
	}
	for i, st := range f.Stock {
		if !seen[st.Location] {
			return fmt.Errorf("stock[%d]: unknown location %q", i, st.Location)
		}
		set := 0
		for _, v := range []string{st.Agent, st.Creature, st.Item} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("stock[%d]: want exactly one of agent, creature, item", i)
		}
	}
	return nil
}

// Apply builds the fixture's locations and stock into w.
func (w *World) Apply(f Fixture) error {
	w.SetCaravan(f.Caravan)
	for _, s := range f.Settlements {
		if _, err := w.AddSettlement(s.ID, s.Size, s.TransferSpot); err != nil {
			return err
		}
	}
	cat := w.codec.Catalog()
	for i, st := range f.Stock {
		var e entity.Entity
		switch {
		case st.Agent != "":
			a, err := cat.NewAgent(st.Agent)
			if err != nil {
				return fmt.Errorf("stock[%d]: %w", i, err)
			}
			a.Name = st.Name
			e = a
		case st.Creature != "":
			cr, err := cat.NewCreature(st.Creature)
			if err != nil {
				return fmt.Errorf("stock[%d]: %w", i, err)
			}
			cr.Name = st.Name
			e = cr
		default:
			it, err := cat.NewItem(st.Item, st.Material)
			if err != nil {
				return fmt.Errorf("stock[%d]: %w", i, err)
			}
			if st.Count > 0 {
				it.Count = st.Count
			}
			if err := w.PlaceNear(st.Location, it); err != nil {
				return err
			}
			continue
		}
		if err := w.SpawnAt(st.Location, e); err != nil {
			return err
		}
	}
	if f.Silver > 0 {
		it, err := cat.NewItem(SilverDef, "")
		if err != nil {
			return err
		}
		it.Count = f.Silver
		return w.PlaceNear(f.Caravan, it)
	}
	return nil
}
