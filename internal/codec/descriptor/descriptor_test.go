package descriptor

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleItem(qty int64) *Descriptor {
	d := New(VariantItem)
	_ = d.Set(FieldDef, String("MeleeWeapon_Knife"))
	_ = d.Set(FieldMaterial, String("Plasteel"))
	_ = d.Set(FieldQuantity, Int(qty))
	_ = d.Set(FieldQuality, Int(2))
	_ = d.Set(FieldPosition, Ints(3, 0, 4))
	_ = d.Set(FieldMinified, Bool(false))
	return d
}

func TestNewPrefillsAbsent(t *testing.T) {
	d := New(VariantCreature)
	fields := d.Fields()
	require.NotEmpty(t, fields)
	for _, f := range fields {
		assert.True(t, d.Get(f.Name).IsAbsent(), f.Name)
	}
	assert.Equal(t, len(fields), d.AbsentCount())
	assert.True(t, d.Get("nope").IsAbsent())
}

func TestSetChecksSchema(t *testing.T) {
	d := New(VariantItem)
	require.NoError(t, d.Set(FieldQuantity, Int(4)))
	require.NoError(t, d.Set(FieldQuantity, Absent()))

	err := d.Set(FieldQuantity, String("4"))
	require.Error(t, err)

	err = d.Set("colour", String("red"))
	require.True(t, errors.Is(err, ErrUnknownField))

	agent := New(VariantAgent)
	require.Error(t, agent.Set(FieldWeapon, Nested(New(VariantCreature))))
	require.NoError(t, agent.Set(FieldWeapon, Nested(sampleItem(1))))
	require.Error(t, agent.Set(FieldEndogenes, List(String("a"), Int(1))))
}

func TestAccessorsReportAbsent(t *testing.T) {
	_, err := Absent().AsInt()
	assert.True(t, errors.Is(err, ErrAbsent))
	_, err = String("x").AsInt()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAbsent))

	f, err := Int(3).AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)
}

func TestWireRoundTrip(t *testing.T) {
	agent := New(VariantAgent)
	require.NoError(t, agent.Set(FieldName, String("Tynan")))
	require.NoError(t, agent.Set(FieldBioAge, Int(90000000)))
	require.NoError(t, agent.Set(FieldHairColor, Floats(0.25, 0.5, 1, 1)))
	require.NoError(t, agent.Set(FieldWeapon, Nested(sampleItem(1))))
	require.NoError(t, agent.Set(FieldInventory, List(Nested(sampleItem(5)), Absent())))
	require.NoError(t, agent.Set(FieldEndogenes, Strings([]string{"Hair_Black", "Skin_Pale"})))

	raw, err := json.Marshal(agent)
	require.NoError(t, err)

	var back Descriptor
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Empty(t, back.Faults())
	assert.True(t, agent.Equal(&back))
	assert.Equal(t, VariantAgent, back.Variant())
}

func TestWireAbsentIsNullText(t *testing.T) {
	d := New(VariantItem)
	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var env struct {
		Fields map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	for _, f := range d.Fields() {
		assert.Equal(t, "null", env.Fields[f.Name], f.Name)
	}
}

func TestWireFieldFaultIsolation(t *testing.T) {
	raw := []byte(`{"variant":"item","fields":{
		"def":"Steel","material":"null","quantity":"many","quality":"2",
		"hit_points":"100","position":["1","x","3"],"rotation":"0","minified":"false"}}`)
	var d Descriptor
	require.NoError(t, json.Unmarshal(raw, &d))

	assert.True(t, d.Get(FieldQuantity).IsAbsent())
	assert.True(t, d.Get(FieldMaterial).IsAbsent())
	def, err := d.Get(FieldDef).AsString()
	require.NoError(t, err)
	assert.Equal(t, "Steel", def)

	pos, err := d.Get(FieldPosition).AsList()
	require.NoError(t, err)
	require.Len(t, pos, 3)
	assert.True(t, pos[1].IsAbsent())

	var names []string
	for _, f := range d.Faults() {
		names = append(names, f.Field)
	}
	assert.ElementsMatch(t, []string{"quantity", "position[1]"}, names)
}

func TestWireRejectsUnknownVariant(t *testing.T) {
	var d Descriptor
	err := json.Unmarshal([]byte(`{"variant":"spaceship","fields":{}}`), &d)
	require.True(t, errors.Is(err, ErrUnknownVariant))
}

func TestWireMissingFieldsAreFaults(t *testing.T) {
	var d Descriptor
	require.NoError(t, json.Unmarshal([]byte(`{"variant":"trait","fields":{"def":"Kind"}}`), &d))
	require.Len(t, d.Faults(), 1)
	assert.Equal(t, FieldDegree, d.Faults()[0].Field)
	assert.True(t, d.Get(FieldDegree).IsAbsent())
}
