package descriptor

// Variant names a descriptor shape.
type Variant string

const (
	VariantAgent    Variant = "agent"
	VariantCreature Variant = "creature"
	VariantItem     Variant = "item"
	VariantRegion   Variant = "region"

	// Sub-records carried inside lists.
	VariantCondition Variant = "condition"
	VariantSkill     Variant = "skill"
	VariantTrait     Variant = "trait"
	VariantGene      Variant = "gene"
	VariantTrainable Variant = "trainable"
	VariantApparel   Variant = "apparel"
)

// Type describes the expected shape of a field so the wire decoder can parse
// text back into typed values.
type Type struct {
	Kind    Kind
	Elem    *Type
	Variant Variant
}

var (
	TInt    = Type{Kind: KindInt}
	TFloat  = Type{Kind: KindFloat}
	TBool   = Type{Kind: KindBool}
	TString = Type{Kind: KindString}
)

func ListOf(t Type) Type {
	e := t
	return Type{Kind: KindList, Elem: &e}
}

func NestedOf(v Variant) Type { return Type{Kind: KindNested, Variant: v} }

type Field struct {
	Name string
	Type Type
}

// Field names shared by encoders and decoders.
const (
	FieldDef       = "def"
	FieldName      = "name"
	FieldBioAge    = "bio_age_ticks"
	FieldChronoAge = "chrono_age_ticks"
	FieldGender    = "gender"

	FieldHair         = "hair"
	FieldHeadType     = "head_type"
	FieldBodyType     = "body_type"
	FieldBeard        = "beard"
	FieldFaceTattoo   = "face_tattoo"
	FieldBodyTattoo   = "body_tattoo"
	FieldHairColor    = "hair_color"
	FieldSkinColor    = "skin_color"
	FieldFavColor     = "favorite_color"
	FieldChildhood    = "childhood"
	FieldAdulthood    = "adulthood"
	FieldXenotype     = "xenotype"
	FieldCustomXeno   = "custom_xenotype"
	FieldXenogenes    = "xenogenes"
	FieldEndogenes    = "endogenes"
	FieldHealth       = "health"
	FieldSkills       = "skills"
	FieldTraits       = "traits"
	FieldApparel      = "apparel"
	FieldWeapon       = "weapon"
	FieldInventory    = "inventory"
	FieldPosition     = "position"
	FieldTraining     = "training"
	FieldMaterial     = "material"
	FieldQuantity     = "quantity"
	FieldQuality      = "quality"
	FieldHitPoints    = "hit_points"
	FieldRotation     = "rotation"
	FieldMinified     = "minified"
	FieldPart         = "part"
	FieldSeverity     = "severity"
	FieldPermanent    = "permanent"
	FieldLevel        = "level"
	FieldPassion      = "passion"
	FieldDegree       = "degree"
	FieldAbilities    = "abilities"
	FieldCanTrain     = "can_train"
	FieldLearned      = "learned"
	FieldWanted       = "wanted"
	FieldItem         = "item"
	FieldWornByCorpse = "worn_by_corpse"

	FieldLocation        = "location"
	FieldSize            = "size"
	FieldTerrainPalette  = "terrain_palette"
	FieldTerrainCells    = "terrain_cells"
	FieldRoofPalette     = "roof_palette"
	FieldRoofCells       = "roof_cells"
	FieldAgents          = "agents"
	FieldPlayerAgents    = "player_agents"
	FieldCreatures       = "creatures"
	FieldPlayerCreatures = "player_creatures"
	FieldItems           = "items"
	FieldLoot            = "loot"
)

var schemas = map[Variant][]Field{
	VariantAgent: {
		{FieldDef, TString},
		{FieldName, TString},
		{FieldBioAge, TInt},
		{FieldChronoAge, TInt},
		{FieldGender, TString},
		{FieldHair, TString},
		{FieldHeadType, TString},
		{FieldBodyType, TString},
		{FieldBeard, TString},
		{FieldFaceTattoo, TString},
		{FieldBodyTattoo, TString},
		{FieldHairColor, ListOf(TFloat)},
		{FieldSkinColor, ListOf(TFloat)},
		{FieldFavColor, ListOf(TFloat)},
		{FieldChildhood, TString},
		{FieldAdulthood, TString},
		{FieldXenotype, TString},
		{FieldCustomXeno, TString},
		{FieldXenogenes, ListOf(NestedOf(VariantGene))},
		{FieldEndogenes, ListOf(TString)},
		{FieldHealth, ListOf(NestedOf(VariantCondition))},
		{FieldSkills, ListOf(NestedOf(VariantSkill))},
		{FieldTraits, ListOf(NestedOf(VariantTrait))},
		{FieldApparel, ListOf(NestedOf(VariantApparel))},
		{FieldWeapon, NestedOf(VariantItem)},
		{FieldInventory, ListOf(NestedOf(VariantItem))},
		{FieldPosition, ListOf(TInt)},
	},
	VariantCreature: {
		{FieldDef, TString},
		{FieldName, TString},
		{FieldBioAge, TInt},
		{FieldChronoAge, TInt},
		{FieldGender, TString},
		{FieldHealth, ListOf(NestedOf(VariantCondition))},
		{FieldTraining, ListOf(NestedOf(VariantTrainable))},
		{FieldPosition, ListOf(TInt)},
	},
	VariantItem: {
		{FieldDef, TString},
		{FieldMaterial, TString},
		{FieldQuantity, TInt},
		{FieldQuality, TInt},
		{FieldHitPoints, TInt},
		{FieldPosition, ListOf(TInt)},
		{FieldRotation, TInt},
		{FieldMinified, TBool},
	},
	VariantRegion: {
		{FieldLocation, TString},
		{FieldSize, ListOf(TInt)},
		{FieldTerrainPalette, ListOf(TString)},
		{FieldTerrainCells, TString},
		{FieldRoofPalette, ListOf(TString)},
		{FieldRoofCells, TString},
		{FieldAgents, ListOf(NestedOf(VariantAgent))},
		{FieldPlayerAgents, ListOf(NestedOf(VariantAgent))},
		{FieldCreatures, ListOf(NestedOf(VariantCreature))},
		{FieldPlayerCreatures, ListOf(NestedOf(VariantCreature))},
		{FieldItems, ListOf(NestedOf(VariantItem))},
		{FieldLoot, ListOf(NestedOf(VariantItem))},
	},
	VariantCondition: {
		{FieldDef, TString},
		{FieldPart, TString},
		{FieldSeverity, TFloat},
		{FieldPermanent, TBool},
	},
	VariantSkill: {
		{FieldDef, TString},
		{FieldLevel, TInt},
		{FieldPassion, TString},
	},
	VariantTrait: {
		{FieldDef, TString},
		{FieldDegree, TInt},
	},
	VariantGene: {
		{FieldDef, TString},
		{FieldAbilities, ListOf(TString)},
	},
	VariantTrainable: {
		{FieldDef, TString},
		{FieldCanTrain, TBool},
		{FieldLearned, TBool},
		{FieldWanted, TBool},
	},
	VariantApparel: {
		{FieldItem, NestedOf(VariantItem)},
		{FieldWornByCorpse, TBool},
	},
}

func Schema(v Variant) ([]Field, bool) {
	f, ok := schemas[v]
	return f, ok
}

func fieldType(v Variant, name string) (Type, bool) {
	for _, f := range schemas[v] {
		if f.Name == name {
			return f.Type, true
		}
	}
	return Type{}, false
}
