package catalogs

import (
	"os"
	"path/filepath"
	"testing"

	"caravan.ai/internal/sim/entity"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	if !c.Has(DefAgent, "Human") {
		t.Fatalf("expected Human agent def")
	}
	if c.DefaultTerrain != "Soil" {
		t.Fatalf("unexpected default terrain: got=%q want=Soil", c.DefaultTerrain)
	}
	if err := c.Check(DefTrait, "NoSuchTrait"); err == nil {
		t.Fatalf("expected unknown trait error")
	}
	if c.Digest == "" {
		t.Fatalf("expected digest")
	}
}

func TestNewAgentDefaults(t *testing.T) {
	c := Default()
	a, err := c.NewAgent("Human")
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if len(a.Skills) != len(c.Skills) {
		t.Fatalf("unexpected skill count: got=%d want=%d", len(a.Skills), len(c.Skills))
	}
	if a.Story == nil || a.Style == nil || a.Genes == nil {
		t.Fatalf("fresh agent should carry story/style/genes")
	}
	if _, err := c.NewAgent("Robot"); err == nil {
		t.Fatalf("expected unknown agent def error")
	}
}

func TestNewItem(t *testing.T) {
	c := Default()
	it, err := c.NewItem("MeleeWeapon_Knife", "Plasteel")
	if err != nil {
		t.Fatalf("new item: %v", err)
	}
	if it.Material != "Plasteel" || it.Quality != entity.QualityNormal || it.HitPoints != 100 {
		t.Fatalf("unexpected item: %+v", it)
	}
	silver, err := c.NewItem("Silver", "Steel")
	if err != nil {
		t.Fatalf("new silver: %v", err)
	}
	if silver.Material != "" || silver.Quality != entity.QualityNone {
		t.Fatalf("silver should carry no material or quality: %+v", silver)
	}
	if _, err := c.NewItem("Nope", ""); err == nil {
		t.Fatalf("expected unknown item error")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(p, []byte("agents: [Human]\nterrain: [Sand]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.DefaultTerrain != "Sand" {
		t.Fatalf("unexpected default terrain: %q", c.DefaultTerrain)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
	if err := os.WriteFile(p, []byte("terrain: [Sand]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for catalog without agents")
	}
}
