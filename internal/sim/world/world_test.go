package world

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"caravan.ai/internal/codec/scribe"
	"caravan.ai/internal/retry"
	"caravan.ai/internal/sim/catalogs"
	"caravan.ai/internal/sim/entity"
)

func newWorld(t *testing.T, notices *[]string) *World {
	t.Helper()
	w := New(scribe.New(catalogs.Default(), zap.NewNop()), zap.NewNop(), WithNotify(func(s string) {
		if notices != nil {
			*notices = append(*notices, s)
		}
	}))
	w.SetCaravan("caravan")
	return w
}

func TestPlaceNearFallsBackToCentreOnce(t *testing.T) {
	var notices []string
	w := newWorld(t, &notices)
	if _, err := w.AddSettlement("home", entity.Vec3i{X: 9, Y: 1, Z: 5}, nil); err != nil {
		t.Fatalf("add settlement: %v", err)
	}
	cat := w.Codec().Catalog()
	for i := 0; i < 2; i++ {
		it, _ := cat.NewItem("Steel", "")
		it.Count = 10
		if err := w.PlaceNear("home", it); err != nil {
			t.Fatalf("place: %v", err)
		}
	}
	r, _ := w.Region("home")
	if len(r.Things) != 1 {
		t.Fatalf("unexpected stacks: got=%d want=1", len(r.Things))
	}
	it := r.Things[0].(*entity.Item)
	if it.Count != 20 || it.Pos != r.Center() {
		t.Fatalf("unexpected stack: count=%d pos=%v", it.Count, it.Pos)
	}
	if len(notices) != 1 {
		t.Fatalf("unexpected notices: got=%v", notices)
	}
}

func TestSpawnAtUsesTransferSpot(t *testing.T) {
	w := newWorld(t, nil)
	spot := entity.Vec3i{X: 1, Z: 2}
	if _, err := w.AddSettlement("home", entity.Vec3i{X: 4, Y: 1, Z: 4}, &spot); err != nil {
		t.Fatalf("add settlement: %v", err)
	}
	a, _ := w.Codec().Catalog().NewAgent("Human")
	a.Owner = entity.FactionOnline
	if err := w.SpawnAt("home", a); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if a.Pos != spot || a.Owner != entity.FactionPlayer {
		t.Fatalf("unexpected agent: pos=%v owner=%s", a.Pos, a.Owner)
	}
	if err := w.SpawnAt("nowhere", a); !errors.Is(err, ErrUnknownLocation) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrUnknownLocation)
	}
}

func TestInjectedFaultsAreTransient(t *testing.T) {
	w := newWorld(t, nil)
	w.InjectFaults("caravan", 1)
	it, _ := w.Codec().Catalog().NewItem("Steel", "")
	if err := w.PlaceNear("caravan", it); !errors.Is(err, ErrPlacementFault) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrPlacementFault)
	}
	if err := w.PlaceNear("caravan", it); err != nil {
		t.Fatalf("second place: %v", err)
	}
	w.InjectFaults("caravan", 1)
	if err := w.PlaceNear("caravan", it); retry.IsNonRetryable(err) {
		t.Fatalf("injected fault marked permanent: %v", err)
	}
}

func TestUnknownLocationIsPermanent(t *testing.T) {
	w := newWorld(t, nil)
	it, _ := w.Codec().Catalog().NewItem("Steel", "")
	err := w.PlaceNear("nowhere", it)
	if !errors.Is(err, ErrUnknownLocation) || !retry.IsNonRetryable(err) {
		t.Fatalf("unexpected error: got=%v want non-retryable %v", err, ErrUnknownLocation)
	}
	a, _ := w.Codec().Catalog().NewAgent("Human")
	if err := w.SpawnAt("nowhere", a); !retry.IsNonRetryable(err) {
		t.Fatalf("spawn at unknown location retryable: %v", err)
	}
}

func TestSilverWallet(t *testing.T) {
	w := newWorld(t, nil)
	if err := w.SendSilverToCaravan(250); err != nil {
		t.Fatalf("send silver: %v", err)
	}
	if got := w.Silver(); got != 250 {
		t.Fatalf("unexpected silver: got=%d want=250", got)
	}
	r, _ := w.Region("caravan")
	if hp := r.Things[0].(*entity.Item).HitPoints; hp != 100 {
		t.Fatalf("unexpected hit points: got=%d want=100", hp)
	}
	if err := w.SpendSilver(300); !errors.Is(err, ErrInsufficientSilver) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrInsufficientSilver)
	}
	if got := w.Silver(); got != 250 {
		t.Fatalf("refused spend changed silver: got=%d", got)
	}
	if err := w.SpendSilver(100); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if got := w.Silver(); got != 150 {
		t.Fatalf("unexpected silver: got=%d want=150", got)
	}
}

func TestTakeItemsSplitsStacks(t *testing.T) {
	w := newWorld(t, nil)
	it, _ := w.Codec().Catalog().NewItem("Steel", "")
	it.Count = 30
	_ = w.PlaceNear("caravan", it)

	got, err := w.TakeItems("caravan", "Steel", 12)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if len(got) != 1 || got[0].(*entity.Item).Count != 12 {
		t.Fatalf("unexpected take: %+v", got)
	}
	if it.Count != 18 {
		t.Fatalf("unexpected remainder: got=%d want=18", it.Count)
	}
	if _, err := w.TakeItems("caravan", "Steel", 19); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrNotFound)
	}
}

func TestApplyEvent(t *testing.T) {
	w := newWorld(t, nil)
	if _, err := w.AddSettlement("home", entity.Vec3i{X: 8, Y: 1, Z: 8}, nil); err != nil {
		t.Fatalf("add settlement: %v", err)
	}
	rec, err := w.ApplyEvent("farm_animals", "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.Location != "home" || rec.Spawned != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	r, _ := w.Region("home")
	if n := r.Count(entity.KindCreature); n != 2 {
		t.Fatalf("unexpected creatures: got=%d want=2", n)
	}
	if _, err := w.ApplyEvent("raid", "caravan"); !errors.Is(err, ErrUnknownLocation) {
		t.Fatalf("caravan accepted an event: %v", err)
	}
	if len(w.Events()) != 1 {
		t.Fatalf("unexpected events: %v", w.Events())
	}
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yaml")
	raw := `caravan: ada-caravan
silver: 400
settlements:
  - id: ada-home
    size: {x: 10, y: 1, z: 10}
    transfer_spot: {x: 2, y: 0, z: 2}
stock:
  - {location: ada-caravan, agent: Human, name: Ada}
  - {location: ada-caravan, creature: Husky, name: Rex}
  - {location: ada-home, item: Steel, count: 80}
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFixture(path, "fallback")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	w := New(scribe.New(catalogs.Default(), zap.NewNop()), zap.NewNop())
	if err := w.Apply(f); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := w.Silver(); got != 400 {
		t.Fatalf("unexpected silver: got=%d want=400", got)
	}
	if got := w.Locations(); len(got) != 2 || got[0] != "ada-home" {
		t.Fatalf("unexpected locations: %v", got)
	}
	r, _ := w.Region("ada-caravan")
	if r.Count(entity.KindAgent) != 1 || r.Count(entity.KindCreature) != 1 {
		t.Fatalf("unexpected caravan contents: %d things", len(r.Things))
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("stock:\n  - {location: nowhere, item: Steel}\n"), 0o644)
	if _, err := LoadFixture(bad, "c"); err == nil {
		t.Fatalf("expected unknown stock location to fail")
	}
}

func TestRegionExportImport(t *testing.T) {
	w := newWorld(t, nil)
	if _, err := w.AddSettlement("home", entity.Vec3i{X: 4, Y: 1, Z: 4}, nil); err != nil {
		t.Fatalf("add settlement: %v", err)
	}
	a, _ := w.Codec().Catalog().NewAgent("Human")
	if err := w.SpawnAt("home", a); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	d, err := w.ExportRegion("home", scribe.RegionEncodeOptions{ContainsAgents: true, ContainsItems: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := w.ExportRegion("caravan", scribe.RegionEncodeOptions{}); !errors.Is(err, ErrUnknownLocation) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrUnknownLocation)
	}

	loc, err := w.ImportRegion("visit", d, scribe.RegionDecodeOptions{ContainsItems: true})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if loc.Region.ID != "visit" || loc.Region.Count(entity.KindAgent) != 1 {
		t.Fatalf("unexpected region: id=%s agents=%d", loc.Region.ID, loc.Region.Count(entity.KindAgent))
	}
	if _, err := w.ImportRegion("caravan", d, scribe.RegionDecodeOptions{}); err == nil {
		t.Fatalf("expected import over the caravan to fail")
	}
}
