package manifest

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/codec/scribe"
	"caravan.ai/internal/sim/catalogs"
	"caravan.ai/internal/sim/entity"
)

func newAssembler(t *testing.T) *Assembler {
	t.Helper()
	return NewAssembler(scribe.New(catalogs.Default(), zap.NewNop()), zap.NewNop())
}

func sampleEntities(t *testing.T, cat *catalogs.Catalog) (own, foreign []entity.Entity) {
	t.Helper()
	agent, err := cat.NewAgent("Human")
	require.NoError(t, err)
	agent.Name = "Ada"
	pet, err := cat.NewCreature("Husky")
	require.NoError(t, err)
	silver, err := cat.NewItem("Silver", "")
	require.NoError(t, err)
	silver.Count = 250
	steel, err := cat.NewItem("Steel", "")
	require.NoError(t, err)
	steel.Count = 75
	steel.Owner = entity.FactionOnline
	return []entity.Entity{agent, silver, pet}, []entity.Entity{steel}
}

func TestAssemblePartitions(t *testing.T) {
	a := newAssembler(t)
	own, foreign := sampleEntities(t, a.Codec().Catalog())

	m, err := a.Assemble("caravan-1", "tile-9", ModeTrade, own, foreign)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, m.ID)
	assert.Equal(t, StepRequest, m.Step)
	assert.Len(t, m.Agents, 1)
	assert.Len(t, m.Creatures, 1)
	assert.Len(t, m.Items, 1)
	assert.Len(t, m.Foreign, 1)
	assert.Equal(t, 4, m.Len())

	ownOrder := m.Own()
	require.Len(t, ownOrder, 3)
	assert.Equal(t, descriptor.VariantAgent, ownOrder[0].Variant())
	assert.Equal(t, descriptor.VariantCreature, ownOrder[1].Variant())
	assert.Equal(t, descriptor.VariantItem, ownOrder[2].Variant())
}

func TestAssembleDropsEmptyStacksAndRejectsEmpty(t *testing.T) {
	a := newAssembler(t)
	empty, err := a.Codec().Catalog().NewItem("Silver", "")
	require.NoError(t, err)
	empty.Count = 0

	_, err = a.Assemble("a", "b", ModeGift, []entity.Entity{empty}, nil)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestWireRoundTrip(t *testing.T) {
	a := newAssembler(t)
	own, foreign := sampleEntities(t, a.Codec().Catalog())
	m, err := a.Assemble("caravan-1", "tile-9", ModeDropPod, own, foreign)
	require.NoError(t, err)

	body, err := Encode(m.WithStep(StepReRequest))
	require.NoError(t, err)

	back, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, m.ID, back.ID)
	assert.Equal(t, StepReRequest, back.Step)
	assert.Equal(t, ModeDropPod, back.Mode)
	assert.Empty(t, back.Faults())
	require.Len(t, back.Items, 1)
	assert.True(t, m.Items[0].Equal(back.Items[0]))

	gotOwn, gotForeign := a.Unpack(back)
	assert.Len(t, gotOwn, 3)
	require.Len(t, gotForeign, 1)
	assert.Equal(t, 75, gotForeign[0].(*entity.Item).Count)

	// the original is untouched by WithStep
	assert.Equal(t, StepRequest, m.Step)
}

func pack(t *testing.T, raw []byte) string {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return base64.StdEncoding.EncodeToString(enc.EncodeAll(raw, nil))
}

func TestDecodeRejectsBadBodies(t *testing.T) {
	_, err := Decode("")
	require.ErrorIs(t, err, ErrEmptyBody)

	_, err = Decode("%%%")
	require.ErrorIs(t, err, ErrCorruptBody)

	_, err = Decode(base64.StdEncoding.EncodeToString([]byte("not zstd")))
	require.ErrorIs(t, err, ErrCorruptBody)

	_, err = Decode(pack(t, []byte(`{"id":"x"}`)))
	require.ErrorIs(t, err, ErrInvalid)

	m := New("a", "b", ModeGift)
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["step"] = "TRADE_MAYBE"
	raw, err = json.Marshal(doc)
	require.NoError(t, err)
	_, err = Decode(pack(t, raw))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeKeepsFieldFaults(t *testing.T) {
	m := New("a", "b", ModeGift)
	item := descriptor.New(descriptor.VariantItem)
	require.NoError(t, item.Set(descriptor.FieldDef, descriptor.String("Steel")))
	require.NoError(t, item.Set(descriptor.FieldQuantity, descriptor.Int(3)))
	m.Items = append(m.Items, item)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	fields := doc["items"].([]any)[0].(map[string]any)["fields"].(map[string]any)
	fields["hit_points"] = "lots"
	raw, err = json.Marshal(doc)
	require.NoError(t, err)

	back, err := Decode(pack(t, raw))
	require.NoError(t, err)
	faults := back.Faults()
	require.Len(t, faults, 1)
	assert.Equal(t, descriptor.FieldHitPoints, faults[0].Field)
}

func TestValidateChecksListVariants(t *testing.T) {
	m := New("a", "b", ModeTrade)
	m.Agents = append(m.Agents, descriptor.New(descriptor.VariantItem))
	require.ErrorIs(t, m.Validate(), ErrInvalid)

	m = New("a", "", ModeTrade)
	require.ErrorIs(t, m.Validate(), ErrInvalid)

	m = New("a", "b", Mode("BARTER"))
	require.ErrorIs(t, m.Validate(), ErrInvalid)
}

func TestStepText(t *testing.T) {
	for s := StepRequest; s <= StepRecover; s++ {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back Step
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	_, err := Step(42).MarshalText()
	require.Error(t, err)
}
