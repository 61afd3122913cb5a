package world

import (
	"fmt"

	"go.uber.org/zap"

	"caravan.ai/internal/sim/entity"
)

type spawnSpec struct {
	agents    int
	creature  string
	creatures int
	item      string
	items     int
	faction   entity.Faction
	condition string
}

// eventEffects is what each world event leaves behind in the target
// settlement. Kinds missing here are recorded without effect.
var eventEffects = map[string]spawnSpec{
	"raid":           {agents: 3, faction: entity.FactionWild},
	"infestation":    {creature: "Boomalope", creatures: 4, faction: entity.FactionWild},
	"mech_cluster":   {item: "Plasteel", items: 1, faction: entity.FactionWild},
	"toxic_fallout":  {condition: "Flu"},
	"manhunter":      {creature: "Husky", creatures: 4, faction: entity.FactionWild},
	"wanderer":       {agents: 1, faction: entity.FactionPlayer},
	"farm_animals":   {creature: "Muffalo", creatures: 2, faction: entity.FactionPlayer},
	"ship_chunks":    {item: "ChunkGranite", items: 3, faction: entity.FactionNone},
	"trader_caravan": {agents: 2, faction: entity.FactionNeutral},
}

// ApplyEvent runs a received world event against a settlement. An empty
// location picks the first settlement.
func (w *World) ApplyEvent(kind, location string) (EventRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if location == "" {
		location = w.firstSettlementLocked()
	}
	loc, ok := w.locations[location]
	if !ok || loc.Kind != KindSettlement {
		return EventRecord{}, fmt.Errorf("%w: %q is not a settlement", ErrUnknownLocation, location)
	}
	rec := EventRecord{Kind: kind, Location: location}
	spec, ok := eventEffects[kind]
	if !ok {
		w.events = append(w.events, rec)
		return rec, nil
	}

	cat := w.codec.Catalog()
	edge := entity.Vec3i{X: 0, Z: loc.Region.Size.Z - 1}
	for i := 0; i < spec.agents; i++ {
		a, err := cat.NewAgent("Human")
		if err != nil {
			return rec, err
		}
		a.Name = fmt.Sprintf("%s-%d", kind, i+1)
		a.Pos = edge
		a.Owner = spec.faction
		loc.Region.Add(a)
		rec.Spawned++
	}
	for i := 0; i < spec.creatures; i++ {
		cr, err := cat.NewCreature(spec.creature)
		if err != nil {
			return rec, err
		}
		cr.Pos = edge
		cr.Owner = spec.faction
		loc.Region.Add(cr)
		rec.Spawned++
	}
	for i := 0; i < spec.items; i++ {
		it, err := cat.NewItem(spec.item, "")
		if err != nil {
			return rec, err
		}
		it.Pos = loc.Region.Center()
		it.Owner = spec.faction
		loc.Region.Add(it)
		rec.Spawned++
	}
	if spec.condition != "" {
		for _, t := range loc.Region.Things {
			if a, ok := t.(*entity.Agent); ok && a.Owner == entity.FactionPlayer {
				a.Health = append(a.Health, entity.Condition{Def: spec.condition, Severity: 0.1})
			}
		}
	}
	w.events = append(w.events, rec)
	w.log.Info("event applied", zap.String("event", kind), zap.String("location", location), zap.Int("spawned", rec.Spawned))
	return rec, nil
}

func (w *World) Events() []EventRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]EventRecord{}, w.events...)
}

func (w *World) firstSettlementLocked() string {
	first := ""
	for id, loc := range w.locations {
		if loc.Kind == KindSettlement && (first == "" || id < first) {
			first = id
		}
	}
	return first
}
