package scribe

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/sim/catalogs"
	"caravan.ai/internal/sim/entity"
)

const roundTripSeed = 20240501

var (
	poolMaterials  = []string{"", "Steel", "WoodLog", "Plasteel", "Cloth", "BlocksGranite"}
	poolBackstory  = []string{"", "Urbworld_Child", "Cave_Child", "Vatgrown", "Mercenary", "Farmer", "Engineer"}
	poolHair       = []string{"", "Bob", "Flowy", "Shaved", "Mohawk"}
	poolHeadTypes  = []string{"", "Male_AverageNormal", "Female_AverageNormal"}
	poolBodyTypes  = []string{"", "Male", "Female", "Thin", "Hulk"}
	poolBeards     = []string{"", "NoBeard", "Stubble", "Full"}
	poolTattoos    = []string{"", "NoTattoo_Face", "NoTattoo_Body", "Tribal_Face", "Circuit_Body"}
	poolXenotypes  = []string{"", "Baseliner", "Hussar", "Genie", "Yttakin"}
	poolGenes      = []string{"Hair_Gray", "Skin_Melanin1", "Robust", "Immunity_Strong", "Ageless"}
	poolAbilities  = []string{"Longjump", "Firespew"}
	poolBodyParts  = []string{"", "Torso", "Head", "LeftArm", "RightArm", "LeftLeg", "RightLeg", "Neck"}
	poolCreatures  = []string{"Muffalo", "Husky", "Boomalope", "Thrumbo"}
	poolNames      = []string{"", "Engie", "Rex", "Ana María", "O'Brien", "星"}
	poolGenders    = []entity.Gender{entity.GenderNone, entity.GenderMale, entity.GenderFemale}
	poolPassions   = []entity.Passion{entity.PassionNone, entity.PassionMinor, entity.PassionMajor}
	poolCustomXeno = []string{"", "Raider", "Null Walker"}
)

func pick[T any](rng *rand.Rand, pool []T) T { return pool[rng.Intn(len(pool))] }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func randPos(rng *rand.Rand) entity.Vec3i {
	return entity.Vec3i{X: rng.Intn(401) - 200, Y: rng.Intn(3), Z: rng.Intn(401) - 200}
}

func randColor(rng *rand.Rand) entity.Color {
	return entity.Color{R: rng.Float64(), G: rng.Float64(), B: rng.Float64(), A: rng.Float64()}
}

// randItem builds a valid stack of a def accepted by keep, or of any def
// when keep is nil.
func randItem(t *testing.T, rng *rand.Rand, cat *catalogs.Catalog, keep func(catalogs.ItemDef) bool) *entity.Item {
	t.Helper()
	var defs []string
	for _, id := range sortedKeys(cat.Items) {
		if keep == nil || keep(cat.Items[id]) {
			defs = append(defs, id)
		}
	}
	require.NotEmpty(t, defs)
	def := cat.Items[pick(rng, defs)]
	it, err := cat.NewItem(def.ID, pick(rng, poolMaterials))
	require.NoError(t, err)
	it.Count = 1 + rng.Intn(500)
	if def.Quality {
		it.Quality = entity.Quality(rng.Intn(int(entity.QualityLegendary) + 1))
	}
	it.HitPoints = 1 + rng.Intn(def.MaxHitPoints)
	it.Rot = entity.Rot4(rng.Intn(4))
	it.Minified = def.Minifiable && rng.Intn(2) == 0
	it.Pos = randPos(rng)
	return it
}

func randConditions(rng *rand.Rand, cat *catalogs.Catalog) []entity.Condition {
	var out []entity.Condition
	defs := sortedKeys(cat.Conditions)
	for i := rng.Intn(4); i > 0; i-- {
		def := pick(rng, defs)
		out = append(out, entity.Condition{
			Def:       def,
			Part:      pick(rng, poolBodyParts),
			Severity:  rng.Float64() * 2,
			Permanent: cat.Conditions[def].CanBePermanent && rng.Intn(2) == 0,
		})
	}
	return out
}

// randAgent fills every attribute at random. Story, Style, Genes and Weapon
// are each dropped a quarter of the time.
func randAgent(t *testing.T, rng *rand.Rand, cat *catalogs.Catalog) *entity.Agent {
	t.Helper()
	a, err := cat.NewAgent("Human")
	require.NoError(t, err)
	a.Name = pick(rng, poolNames)
	a.BioAgeTicks = rng.Int63n(200_000_000)
	a.ChronoAgeTicks = a.BioAgeTicks + rng.Int63n(1_000_000_000)
	a.Gender = pick(rng, poolGenders)

	if rng.Intn(4) == 0 {
		a.Story = nil
	} else {
		a.Story = &entity.Story{
			Childhood:     pick(rng, poolBackstory),
			Adulthood:     pick(rng, poolBackstory),
			HairDef:       pick(rng, poolHair),
			HeadType:      pick(rng, poolHeadTypes),
			BodyType:      pick(rng, poolBodyTypes),
			HairColor:     randColor(rng),
			SkinColor:     randColor(rng),
			FavoriteColor: randColor(rng),
		}
	}
	if rng.Intn(4) == 0 {
		a.Style = nil
	} else {
		a.Style = &entity.Style{
			BeardDef:   pick(rng, poolBeards),
			FaceTattoo: pick(rng, poolTattoos),
			BodyTattoo: pick(rng, poolTattoos),
		}
	}
	if rng.Intn(4) == 0 {
		a.Genes = nil
	} else {
		g := &entity.Genes{Xenotype: pick(rng, poolXenotypes), CustomXenotype: pick(rng, poolCustomXeno)}
		for i := rng.Intn(3); i > 0; i-- {
			gene := entity.Gene{Def: pick(rng, poolGenes), Abilities: []string{}}
			for j := rng.Intn(3); j > 0; j-- {
				gene.Abilities = append(gene.Abilities, pick(rng, poolAbilities))
			}
			g.Xenogenes = append(g.Xenogenes, gene)
		}
		for i := rng.Intn(4); i > 0; i-- {
			g.Endogenes = append(g.Endogenes, pick(rng, poolGenes))
		}
		a.Genes = g
	}

	a.Health = randConditions(rng, cat)
	for i := range a.Skills {
		a.Skills[i].Level = rng.Intn(maxSkillLevel + 1)
		a.Skills[i].Passion = pick(rng, poolPassions)
	}
	traits := sortedKeys(cat.Traits)
	for i := rng.Intn(3); i > 0; i-- {
		def := cat.Traits[pick(rng, traits)]
		a.Traits = append(a.Traits, entity.Trait{Def: def.ID, Degree: pick(rng, def.Degrees)})
	}
	for i := rng.Intn(3); i > 0; i-- {
		a.Apparel = append(a.Apparel, entity.Worn{
			Item:         randItem(t, rng, cat, func(d catalogs.ItemDef) bool { return d.Apparel }),
			WornByCorpse: rng.Intn(2) == 0,
		})
	}
	if rng.Intn(4) != 0 {
		a.Weapon = randItem(t, rng, cat, func(d catalogs.ItemDef) bool { return d.Weapon })
	}
	for i := rng.Intn(4); i > 0; i-- {
		a.Inventory = append(a.Inventory, randItem(t, rng, cat, func(d catalogs.ItemDef) bool { return d.Haulable }))
	}
	a.Pos = randPos(rng)
	return a
}

func randCreature(t *testing.T, rng *rand.Rand, cat *catalogs.Catalog) *entity.Creature {
	t.Helper()
	cr, err := cat.NewCreature(pick(rng, poolCreatures))
	require.NoError(t, err)
	cr.Name = pick(rng, poolNames)
	cr.Gender = pick(rng, poolGenders)
	cr.BioAgeTicks = rng.Int63n(50_000_000)
	cr.ChronoAgeTicks = cr.BioAgeTicks + rng.Int63n(50_000_000)
	cr.Health = randConditions(rng, cat)
	for i := range cr.Training {
		cr.Training[i].CanTrain = rng.Intn(2) == 0
		cr.Training[i].Learned = rng.Intn(2) == 0
		cr.Training[i].Wanted = rng.Intn(2) == 0
	}
	cr.Pos = randPos(rng)
	return cr
}

// assertPresentFieldsKept checks that every field present in want carries
// the same value in got.
func assertPresentFieldsKept(t *testing.T, want, got *descriptor.Descriptor, label string) {
	t.Helper()
	require.NotNil(t, got, label)
	for _, f := range want.Fields() {
		w := want.Get(f.Name)
		if w.IsAbsent() {
			continue
		}
		assert.True(t, w.Equal(got.Get(f.Name)), "%s: field %s: want %v got %v", label, f.Name, w, got.Get(f.Name))
	}
}

func TestRandomItemsRoundTrip(t *testing.T) {
	c, logs := newTestCodec(t)
	rng := rand.New(rand.NewSource(roundTripSeed))
	for i := 0; i < 2000; i++ {
		it := randItem(t, rng, c.Catalog(), nil)
		d := c.EncodeItem(it)
		require.NotNil(t, d)
		if it.Quality == entity.QualityNone {
			assert.True(t, d.Get(descriptor.FieldQuality).IsAbsent())
		}

		back := c.DecodeItem(wire(t, d))
		require.NotNil(t, back, "item %d: %s", i, it.Label())
		assert.Equal(t, it, back, "item %d", i)
		assert.True(t, d.Equal(c.EncodeItem(back)), "item %d: %s", i, it.Label())
	}
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestRandomCreaturesRoundTrip(t *testing.T) {
	c, logs := newTestCodec(t)
	rng := rand.New(rand.NewSource(roundTripSeed + 1))
	for i := 0; i < 500; i++ {
		cr := randCreature(t, rng, c.Catalog())
		d := c.EncodeCreature(cr)
		back := c.DecodeCreature(wire(t, d))
		require.NotNil(t, back, "creature %d", i)
		assert.Equal(t, cr, back, "creature %d", i)
		assert.True(t, d.Equal(c.EncodeCreature(back)), "creature %d", i)
	}
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestRandomAgentsRoundTrip(t *testing.T) {
	c, _ := newTestCodec(t)
	rng := rand.New(rand.NewSource(roundTripSeed + 2))
	var partial int
	for i := 0; i < 500; i++ {
		a := randAgent(t, rng, c.Catalog())
		label := fmt.Sprintf("agent %d", i)
		d := c.EncodeAgent(a)
		require.NotNil(t, d, label)

		back := c.DecodeAgent(wire(t, d))
		require.NotNil(t, back, label)
		again := c.EncodeAgent(back)
		assertPresentFieldsKept(t, d, again, label)

		if a.Weapon == nil {
			assert.True(t, d.Get(descriptor.FieldWeapon).IsAbsent(), label)
			assert.Nil(t, back.Weapon, label)
		}
		if a.Story != nil && a.Style != nil && a.Genes != nil {
			// Nothing was absent, so the second pass matches sentinel for
			// sentinel.
			assert.True(t, d.Equal(again), label)
			continue
		}
		partial++
		assert.Positive(t, d.AbsentCount(), label)
	}
	assert.Positive(t, partial, "seed produced no agents with absent parts")
}
