// Package world is the in-memory simulation a peer places entities into:
// its settlements, the caravan it travels with, and the silver it carries.
package world

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/codec/scribe"
	"caravan.ai/internal/retry"
	"caravan.ai/internal/sim/entity"
	"caravan.ai/internal/transfer/manifest"
)

const SilverDef = "Silver"

var (
	ErrUnknownLocation    = errors.New("unknown location")
	ErrInsufficientSilver = errors.New("insufficient silver")
	ErrPlacementFault     = errors.New("placement fault")
	ErrNotFound           = errors.New("entity not found")
)

type LocationKind string

const (
	KindSettlement LocationKind = "SETTLEMENT"
	KindCaravan    LocationKind = "CARAVAN"
)

// Location is a settlement or a caravan. A caravan is a one-cell region.
type Location struct {
	ID     string
	Kind   LocationKind
	Region *entity.Region

	// Spot is where received goods are dropped. Nil falls back to the
	// region centre.
	Spot *entity.Vec3i
}

// EventRecord is an event applied to one of the local settlements.
type EventRecord struct {
	Kind     string
	Location string
	Spawned  int
}

// World implements negotiation placement, drop pod launching and saving for
// a single peer. It is safe for concurrent use.
type World struct {
	mu sync.Mutex

	codec *scribe.Codec
	log   *zap.Logger
	// Notify receives one-off user notices such as a missing transfer spot.
	notify func(string)

	locations map[string]*Location
	caravan   string
	noSpot    map[string]bool
	faults    map[string]int

	events   []EventRecord
	launched []*manifest.Manifest
	saves    int
}

type Option func(*World)

func WithNotify(fn func(string)) Option { return func(w *World) { w.notify = fn } }

func New(codec *scribe.Codec, logger *zap.Logger, opts ...Option) *World {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &World{
		codec:     codec,
		log:       logger.Named("world"),
		notify:    func(string) {},
		locations: map[string]*Location{},
		noSpot:    map[string]bool{},
		faults:    map[string]int{},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *World) Codec() *scribe.Codec { return w.codec }

// AddSettlement registers a settlement with fresh terrain. spot may be nil.
func (w *World) AddSettlement(id string, size entity.Vec3i, spot *entity.Vec3i) (*Location, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrUnknownLocation)
	}
	if size.X <= 0 || size.Z <= 0 {
		return nil, fmt.Errorf("settlement %s: bad size %v", id, size)
	}
	r := entity.NewRegion(id, size, w.codec.Catalog().DefaultTerrain)
	if spot != nil && !r.InBounds(*spot) {
		return nil, fmt.Errorf("settlement %s: transfer spot %v out of bounds", id, *spot)
	}
	loc := &Location{ID: id, Kind: KindSettlement, Region: r, Spot: spot}
	w.mu.Lock()
	w.locations[id] = loc
	w.mu.Unlock()
	return loc, nil
}

// SetCaravan registers the caravan the peer travels with.
func (w *World) SetCaravan(id string) *Location {
	loc := &Location{
		ID:     id,
		Kind:   KindCaravan,
		Region: entity.NewRegion(id, entity.Vec3i{X: 1, Y: 1, Z: 1}, w.codec.Catalog().DefaultTerrain),
	}
	w.mu.Lock()
	w.locations[id] = loc
	w.caravan = id
	w.mu.Unlock()
	return loc
}

func (w *World) Caravan() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.caravan
}

// Locations lists location ids, settlements first.
func (w *World) Locations() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.locations))
	for id := range w.locations {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := w.locations[out[i]], w.locations[out[j]]
		if a.Kind != b.Kind {
			return a.Kind == KindSettlement
		}
		return out[i] < out[j]
	})
	return out
}

func (w *World) Region(id string) (*entity.Region, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	loc, ok := w.locations[id]
	if !ok {
		return nil, false
	}
	return loc.Region, true
}

// InjectFaults makes the next n placements at location fail transiently.
func (w *World) InjectFaults(location string, n int) {
	w.mu.Lock()
	w.faults[location] = n
	w.mu.Unlock()
}

// SpawnAt places an agent or creature at the location's drop point and
// hands it to the local player.
func (w *World) SpawnAt(location string, e entity.Entity) error {
	if e == nil {
		return errors.New("nil entity")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	loc, err := w.placeLocked(location)
	if err != nil {
		return err
	}
	e.SetPosition(w.dropPointLocked(loc))
	e.SetFaction(entity.FactionPlayer)
	loc.Region.Add(e)
	w.log.Debug("entity spawned", zap.String("location", location), zap.String("entity", e.Label()))
	return nil
}

// PlaceNear drops a stack at the location's drop point. Stacks of the same
// def, material and quality already lying there absorb it.
func (w *World) PlaceNear(location string, it *entity.Item) error {
	if it == nil {
		return errors.New("nil item")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	loc, err := w.placeLocked(location)
	if err != nil {
		return err
	}
	pos := w.dropPointLocked(loc)
	it.SetFaction(entity.FactionPlayer)
	def, _ := w.codec.Catalog().Item(it.Def)
	if def.Stackable {
		for _, t := range loc.Region.ThingsAt(pos.X, pos.Z) {
			if other, ok := t.(*entity.Item); ok && sameStack(other, it) {
				other.Count += it.Count
				return nil
			}
		}
	}
	it.SetPosition(pos)
	loc.Region.Add(it)
	return nil
}

func sameStack(a, b *entity.Item) bool {
	return a.Def == b.Def && a.Material == b.Material && a.Quality == b.Quality && !a.Minified && !b.Minified
}

// placeLocked resolves a placement target. Unknown locations never appear
// on their own, so that fault is marked non-retryable.
func (w *World) placeLocked(location string) (*Location, error) {
	loc, ok := w.locations[location]
	if !ok {
		return nil, retry.NonRetryable(fmt.Errorf("%w: %s", ErrUnknownLocation, location))
	}
	if n := w.faults[location]; n > 0 {
		w.faults[location] = n - 1
		return nil, fmt.Errorf("%w at %s", ErrPlacementFault, location)
	}
	return loc, nil
}

// dropPointLocked returns the transfer spot, or the region centre with a
// notice the first time a settlement has none.
func (w *World) dropPointLocked(loc *Location) entity.Vec3i {
	if loc.Spot != nil {
		return *loc.Spot
	}
	if loc.Kind == KindSettlement && !w.noSpot[loc.ID] {
		w.noSpot[loc.ID] = true
		w.notify(fmt.Sprintf("No transfer spot in %s, goods were dropped at the centre", loc.ID))
	}
	return loc.Region.Center()
}

// Take removes the matching player-owned entities from a location. Stacks
// are split when count is smaller than the stack.
func (w *World) Take(location string, match func(entity.Entity) bool) ([]entity.Entity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	loc, ok := w.locations[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, location)
	}
	var out []entity.Entity
	for _, t := range append([]entity.Entity{}, loc.Region.Things...) {
		if t.Faction() == entity.FactionPlayer && match(t) {
			loc.Region.Remove(t)
			out = append(out, t)
		}
	}
	return out, nil
}

// TakeItems removes count units of def from a location's player stacks.
func (w *World) TakeItems(location, def string, count int) ([]entity.Entity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	loc, ok := w.locations[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, location)
	}
	if count <= 0 {
		return nil, fmt.Errorf("take %s: bad count %d", def, count)
	}
	if have := countLocked(loc, def); have < count {
		return nil, fmt.Errorf("%w: %s has %d %s, want %d", ErrNotFound, location, have, def, count)
	}
	return takeLocked(loc, def, count), nil
}

func takeLocked(loc *Location, def string, count int) []entity.Entity {
	var out []entity.Entity
	for _, t := range append([]entity.Entity{}, loc.Region.Things...) {
		if count == 0 {
			break
		}
		it, ok := t.(*entity.Item)
		if !ok || it.Def != def || it.Owner != entity.FactionPlayer {
			continue
		}
		if it.Count <= count {
			loc.Region.Remove(it)
			count -= it.Count
			out = append(out, it)
			continue
		}
		part := *it
		part.Count = count
		it.Count -= count
		count = 0
		out = append(out, &part)
	}
	return out
}

func countLocked(loc *Location, def string) int {
	n := 0
	for _, t := range loc.Region.Things {
		if it, ok := t.(*entity.Item); ok && it.Def == def && it.Owner == entity.FactionPlayer {
			n += it.Count
		}
	}
	return n
}

// Silver is the caravan's silver.
func (w *World) Silver() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	loc, ok := w.locations[w.caravan]
	if !ok {
		return 0
	}
	return countLocked(loc, SilverDef)
}

// SpendSilver removes qty silver from the caravan, or nothing when it holds
// less.
func (w *World) SpendSilver(qty int) error {
	if qty < 0 {
		return fmt.Errorf("spend silver: negative amount %d", qty)
	}
	if qty == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	loc, ok := w.locations[w.caravan]
	if !ok {
		return fmt.Errorf("%w: no caravan", ErrUnknownLocation)
	}
	if have := countLocked(loc, SilverDef); have < qty {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientSilver, have, qty)
	}
	takeLocked(loc, SilverDef, qty)
	return nil
}

// SendSilverToCaravan materializes a silver stack in the caravan through the
// entity codec.
func (w *World) SendSilverToCaravan(qty int) error {
	if qty <= 0 {
		return nil
	}
	d := descriptor.New(descriptor.VariantItem)
	for name, v := range map[string]descriptor.Value{
		descriptor.FieldDef:       descriptor.String(SilverDef),
		descriptor.FieldQuantity:  descriptor.Int(int64(qty)),
		descriptor.FieldQuality:   descriptor.Int(1),
		descriptor.FieldHitPoints: descriptor.Int(100),
	} {
		if err := d.Set(name, v); err != nil {
			return err
		}
	}
	it := w.codec.DecodeItem(d)
	if it == nil {
		return fmt.Errorf("silver stack of %d could not be built", qty)
	}
	return w.PlaceNear(w.Caravan(), it)
}

// Launch records drop pods sent for an accepted pod transfer.
func (w *World) Launch(m *manifest.Manifest) error {
	w.mu.Lock()
	w.launched = append(w.launched, m)
	w.mu.Unlock()
	w.log.Info("drop pods launched", zap.Stringer("manifest", m.ID), zap.String("to", m.To), zap.Int("pods", m.Len()))
	return nil
}

func (w *World) Launched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.launched)
}

// Save marks the world as persisted. Nothing is written to disk.
func (w *World) Save() error {
	w.mu.Lock()
	w.saves++
	n := w.saves
	w.mu.Unlock()
	w.log.Info("world saved", zap.Int("saves", n))
	return nil
}

func (w *World) Saves() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saves
}
