package scribe

import (
	"errors"
	"fmt"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/sim/catalogs"
	"caravan.ai/internal/sim/entity"
)

var (
	errNoStory = errors.New("agent has no story")
	errNoStyle = errors.New("agent has no style")
	errNoGenes = errors.New("agent has no genes")
)

const maxSkillLevel = 20

func (c *Codec) agentAttributes() []attribute[*entity.Agent] {
	return []attribute[*entity.Agent]{
		{name: "def", encode: func(a *entity.Agent) (staged, error) {
			return staged{descriptor.FieldDef: descriptor.String(a.Def)}, nil
		}},
		{name: "identity", encode: func(a *entity.Agent) (staged, error) {
			return identityFields(a.Name, a.BioAgeTicks, a.ChronoAgeTicks, a.Gender), nil
		}, decode: func(d *descriptor.Descriptor, a *entity.Agent) error {
			return identity{&a.Name, &a.BioAgeTicks, &a.ChronoAgeTicks, &a.Gender}.apply(d)
		}},
		{name: "story", encode: encodeStory, decode: c.decodeStory},
		{name: "appearance", encode: encodeAppearance, decode: c.decodeAppearance},
		{name: "favorite_color", encode: encodeFavoriteColor, decode: decodeFavoriteColor},
		{name: "xenotype", encode: encodeXenotype, decode: c.decodeXenotype},
		{name: "xenogenes", encode: encodeXenogenes, decode: c.decodeXenogenes},
		{name: "endogenes", encode: encodeEndogenes, decode: c.decodeEndogenes},
		{name: "health", encode: func(a *entity.Agent) (staged, error) {
			return staged{descriptor.FieldHealth: conditionsValue(a.Health)}, nil
		}, decode: func(d *descriptor.Descriptor, a *entity.Agent) error {
			a.Health = a.Health[:0]
			return c.eachNested(a.Name, "health", d, descriptor.FieldHealth, func(nd *descriptor.Descriptor) error {
				cond, err := c.decodeCondition(nd)
				if err != nil {
					return err
				}
				a.Health = append(a.Health, cond)
				return nil
			})
		}},
		{name: "skills", encode: encodeSkills, decode: c.decodeSkills},
		{name: "traits", encode: encodeTraits, decode: c.decodeTraits},
		{name: "apparel", encode: c.encodeApparel, decode: c.decodeApparel},
		{name: "weapon", encode: c.encodeWeapon, decode: c.decodeWeapon},
		{name: "inventory", encode: c.encodeInventory, decode: c.decodeInventory},
		{name: "position", encode: encodePosition[*entity.Agent], decode: decodePosition[*entity.Agent]},
	}
}

func (c *Codec) EncodeAgent(a *entity.Agent) *descriptor.Descriptor {
	if a == nil {
		return nil
	}
	d := descriptor.New(descriptor.VariantAgent)
	encodeAttrs(c, a.Name, c.agentAttrs, a, d)
	return d
}

// DecodeAgent generates a fresh agent for the descriptor's def and applies
// every attribute over the defaults.
func (c *Codec) DecodeAgent(d *descriptor.Descriptor) *entity.Agent {
	if d == nil {
		return nil
	}
	name, _, _ := getString(d, descriptor.FieldName)
	def, _, err := getString(d, descriptor.FieldDef)
	if err != nil {
		c.entityFault("agent", name, err)
		return nil
	}
	a, err := c.cat.NewAgent(def)
	if err != nil {
		c.entityFault("agent", name, err)
		return nil
	}
	decodeAttrs(c, name, c.agentAttrs, d, a)
	return a
}

func encodeStory(a *entity.Agent) (staged, error) {
	if a.Story == nil {
		return nil, errNoStory
	}
	return staged{
		descriptor.FieldChildhood: descriptor.String(a.Story.Childhood),
		descriptor.FieldAdulthood: descriptor.String(a.Story.Adulthood),
	}, nil
}

func (c *Codec) decodeStory(d *descriptor.Descriptor, a *entity.Agent) error {
	child, hasChild, err := c.optionalDef(d, descriptor.FieldChildhood, catalogs.DefBackstory)
	if err != nil {
		return err
	}
	adult, hasAdult, err := c.optionalDef(d, descriptor.FieldAdulthood, catalogs.DefBackstory)
	if err != nil {
		return err
	}
	story := ensureStory(a)
	if hasChild {
		story.Childhood = child
	}
	if hasAdult {
		story.Adulthood = adult
	}
	return nil
}

func encodeAppearance(a *entity.Agent) (staged, error) {
	if a.Story == nil {
		return nil, errNoStory
	}
	if a.Style == nil {
		return nil, errNoStyle
	}
	return staged{
		descriptor.FieldHair:       descriptor.String(a.Story.HairDef),
		descriptor.FieldHeadType:   descriptor.String(a.Story.HeadType),
		descriptor.FieldBodyType:   descriptor.String(a.Story.BodyType),
		descriptor.FieldHairColor:  colorValue(a.Story.HairColor),
		descriptor.FieldSkinColor:  colorValue(a.Story.SkinColor),
		descriptor.FieldBeard:      descriptor.String(a.Style.BeardDef),
		descriptor.FieldFaceTattoo: descriptor.String(a.Style.FaceTattoo),
		descriptor.FieldBodyTattoo: descriptor.String(a.Style.BodyTattoo),
	}, nil
}

func (c *Codec) decodeAppearance(d *descriptor.Descriptor, a *entity.Agent) error {
	type part struct {
		field string
		kind  catalogs.DefKind
		dst   *string
	}
	story := ensureStory(a)
	if a.Style == nil {
		a.Style = &entity.Style{}
	}
	parts := []part{
		{descriptor.FieldHair, catalogs.DefHair, &story.HairDef},
		{descriptor.FieldHeadType, catalogs.DefHeadType, &story.HeadType},
		{descriptor.FieldBodyType, catalogs.DefBodyType, &story.BodyType},
		{descriptor.FieldBeard, catalogs.DefBeard, &a.Style.BeardDef},
		{descriptor.FieldFaceTattoo, catalogs.DefTattoo, &a.Style.FaceTattoo},
		{descriptor.FieldBodyTattoo, catalogs.DefTattoo, &a.Style.BodyTattoo},
	}
	vals := make([]string, len(parts))
	set := make([]bool, len(parts))
	for i, p := range parts {
		v, ok, err := c.optionalDef(d, p.field, p.kind)
		if err != nil {
			return err
		}
		vals[i], set[i] = v, ok
	}
	hair, hasHair, err := getColor(d, descriptor.FieldHairColor)
	if err != nil {
		return err
	}
	skin, hasSkin, err := getColor(d, descriptor.FieldSkinColor)
	if err != nil {
		return err
	}
	for i, p := range parts {
		if set[i] {
			*p.dst = vals[i]
		}
	}
	if hasHair {
		story.HairColor = hair
	}
	if hasSkin {
		story.SkinColor = skin
	}
	return nil
}

func encodeFavoriteColor(a *entity.Agent) (staged, error) {
	if a.Story == nil {
		return nil, errNoStory
	}
	return staged{descriptor.FieldFavColor: colorValue(a.Story.FavoriteColor)}, nil
}

func decodeFavoriteColor(d *descriptor.Descriptor, a *entity.Agent) error {
	col, ok, err := getColor(d, descriptor.FieldFavColor)
	if err != nil || !ok {
		return err
	}
	ensureStory(a).FavoriteColor = col
	return nil
}

func encodeXenotype(a *entity.Agent) (staged, error) {
	if a.Genes == nil {
		return nil, errNoGenes
	}
	return staged{
		descriptor.FieldXenotype:   descriptor.String(a.Genes.Xenotype),
		descriptor.FieldCustomXeno: descriptor.String(a.Genes.CustomXenotype),
	}, nil
}

func (c *Codec) decodeXenotype(d *descriptor.Descriptor, a *entity.Agent) error {
	xeno, hasXeno, err := c.optionalDef(d, descriptor.FieldXenotype, catalogs.DefXenotype)
	if err != nil {
		return err
	}
	custom, hasCustom, err := getString(d, descriptor.FieldCustomXeno)
	if err != nil {
		return err
	}
	g := ensureGenes(a)
	if hasXeno {
		g.Xenotype = xeno
	}
	if hasCustom {
		g.CustomXenotype = custom
	}
	return nil
}

func encodeXenogenes(a *entity.Agent) (staged, error) {
	if a.Genes == nil {
		return nil, errNoGenes
	}
	list := make([]descriptor.Value, 0, len(a.Genes.Xenogenes))
	for _, g := range a.Genes.Xenogenes {
		gd := descriptor.New(descriptor.VariantGene)
		_ = gd.Set(descriptor.FieldDef, descriptor.String(g.Def))
		_ = gd.Set(descriptor.FieldAbilities, descriptor.Strings(g.Abilities))
		list = append(list, descriptor.Nested(gd))
	}
	return staged{descriptor.FieldXenogenes: descriptor.List(list...)}, nil
}

func (c *Codec) decodeXenogenes(d *descriptor.Descriptor, a *entity.Agent) error {
	g := ensureGenes(a)
	g.Xenogenes = g.Xenogenes[:0]
	return c.eachNested(a.Name, "xenogenes", d, descriptor.FieldXenogenes, func(nd *descriptor.Descriptor) error {
		def, err := c.requiredDef(nd, descriptor.FieldDef, catalogs.DefGene)
		if err != nil {
			return err
		}
		abilities, _, err := getStrings(nd, descriptor.FieldAbilities)
		if err != nil {
			return err
		}
		for _, ab := range abilities {
			if err := c.cat.Check(catalogs.DefAbility, ab); err != nil {
				return err
			}
		}
		g.Xenogenes = append(g.Xenogenes, entity.Gene{Def: def, Abilities: abilities})
		return nil
	})
}

func encodeEndogenes(a *entity.Agent) (staged, error) {
	if a.Genes == nil {
		return nil, errNoGenes
	}
	return staged{descriptor.FieldEndogenes: descriptor.Strings(a.Genes.Endogenes)}, nil
}

func (c *Codec) decodeEndogenes(d *descriptor.Descriptor, a *entity.Agent) error {
	g := ensureGenes(a)
	g.Endogenes = g.Endogenes[:0]
	list, ok, err := getList(d, descriptor.FieldEndogenes)
	if err != nil || !ok {
		return err
	}
	for i, v := range list {
		v := v
		c.attempt(a.Name, fmt.Sprintf("endogenes[%d]", i), func() error {
			def, err := v.AsString()
			if err != nil {
				return err
			}
			if err := c.cat.Check(catalogs.DefGene, def); err != nil {
				return err
			}
			g.Endogenes = append(g.Endogenes, def)
			return nil
		})
	}
	return nil
}

func conditionsValue(cs []entity.Condition) descriptor.Value {
	list := make([]descriptor.Value, 0, len(cs))
	for _, h := range cs {
		hd := descriptor.New(descriptor.VariantCondition)
		_ = hd.Set(descriptor.FieldDef, descriptor.String(h.Def))
		_ = hd.Set(descriptor.FieldPart, descriptor.String(h.Part))
		_ = hd.Set(descriptor.FieldSeverity, descriptor.Float(h.Severity))
		_ = hd.Set(descriptor.FieldPermanent, descriptor.Bool(h.Permanent))
		list = append(list, descriptor.Nested(hd))
	}
	return descriptor.List(list...)
}

func (c *Codec) decodeCondition(d *descriptor.Descriptor) (entity.Condition, error) {
	def, err := c.requiredDef(d, descriptor.FieldDef, catalogs.DefCondition)
	if err != nil {
		return entity.Condition{}, err
	}
	part, _, err := c.optionalDef(d, descriptor.FieldPart, catalogs.DefBodyPart)
	if err != nil {
		return entity.Condition{}, err
	}
	sev, _, err := getFloat(d, descriptor.FieldSeverity)
	if err != nil {
		return entity.Condition{}, err
	}
	if sev < 0 {
		return entity.Condition{}, fmt.Errorf("severity %g is negative", sev)
	}
	perm, _, err := getBool(d, descriptor.FieldPermanent)
	if err != nil {
		return entity.Condition{}, err
	}
	if perm && !c.cat.Conditions[def].CanBePermanent {
		perm = false
	}
	return entity.Condition{Def: def, Part: part, Severity: sev, Permanent: perm}, nil
}

func encodeSkills(a *entity.Agent) (staged, error) {
	list := make([]descriptor.Value, 0, len(a.Skills))
	for _, s := range a.Skills {
		sd := descriptor.New(descriptor.VariantSkill)
		_ = sd.Set(descriptor.FieldDef, descriptor.String(s.Def))
		_ = sd.Set(descriptor.FieldLevel, descriptor.Int(int64(s.Level)))
		_ = sd.Set(descriptor.FieldPassion, descriptor.String(string(s.Passion)))
		list = append(list, descriptor.Nested(sd))
	}
	return staged{descriptor.FieldSkills: descriptor.List(list...)}, nil
}

// Skills are not rebuilt: every agent already carries one record per catalog
// skill, and each descriptor entry updates its matching record.
func (c *Codec) decodeSkills(d *descriptor.Descriptor, a *entity.Agent) error {
	return c.eachNested(a.Name, "skills", d, descriptor.FieldSkills, func(nd *descriptor.Descriptor) error {
		def, err := c.requiredDef(nd, descriptor.FieldDef, catalogs.DefSkill)
		if err != nil {
			return err
		}
		level, hasLevel, err := getInt(nd, descriptor.FieldLevel)
		if err != nil {
			return err
		}
		if level < 0 || level > maxSkillLevel {
			return fmt.Errorf("skill %s level %d out of range", def, level)
		}
		passion, hasPassion, err := getString(nd, descriptor.FieldPassion)
		if err != nil {
			return err
		}
		switch entity.Passion(passion) {
		case entity.PassionNone, entity.PassionMinor, entity.PassionMajor:
		default:
			if hasPassion {
				return fmt.Errorf("unknown passion %q", passion)
			}
		}
		for i := range a.Skills {
			if a.Skills[i].Def != def {
				continue
			}
			if hasLevel {
				a.Skills[i].Level = int(level)
			}
			if hasPassion {
				a.Skills[i].Passion = entity.Passion(passion)
			}
			return nil
		}
		return fmt.Errorf("agent has no skill record %s", def)
	})
}

func encodeTraits(a *entity.Agent) (staged, error) {
	list := make([]descriptor.Value, 0, len(a.Traits))
	for _, t := range a.Traits {
		td := descriptor.New(descriptor.VariantTrait)
		_ = td.Set(descriptor.FieldDef, descriptor.String(t.Def))
		_ = td.Set(descriptor.FieldDegree, descriptor.Int(int64(t.Degree)))
		list = append(list, descriptor.Nested(td))
	}
	return staged{descriptor.FieldTraits: descriptor.List(list...)}, nil
}

func (c *Codec) decodeTraits(d *descriptor.Descriptor, a *entity.Agent) error {
	a.Traits = a.Traits[:0]
	return c.eachNested(a.Name, "traits", d, descriptor.FieldTraits, func(nd *descriptor.Descriptor) error {
		def, err := c.requiredDef(nd, descriptor.FieldDef, catalogs.DefTrait)
		if err != nil {
			return err
		}
		degree, _, err := getInt(nd, descriptor.FieldDegree)
		if err != nil {
			return err
		}
		known := false
		for _, dg := range c.cat.Traits[def].Degrees {
			if int64(dg) == degree {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("trait %s has no degree %d", def, degree)
		}
		a.Traits = append(a.Traits, entity.Trait{Def: def, Degree: int(degree)})
		return nil
	})
}

func (c *Codec) encodeApparel(a *entity.Agent) (staged, error) {
	list := make([]descriptor.Value, 0, len(a.Apparel))
	for _, w := range a.Apparel {
		wd := descriptor.New(descriptor.VariantApparel)
		_ = wd.Set(descriptor.FieldItem, descriptor.Nested(c.EncodeItem(w.Item)))
		_ = wd.Set(descriptor.FieldWornByCorpse, descriptor.Bool(w.WornByCorpse))
		list = append(list, descriptor.Nested(wd))
	}
	return staged{descriptor.FieldApparel: descriptor.List(list...)}, nil
}

func (c *Codec) decodeApparel(d *descriptor.Descriptor, a *entity.Agent) error {
	a.Apparel = a.Apparel[:0]
	return c.eachNested(a.Name, "apparel", d, descriptor.FieldApparel, func(nd *descriptor.Descriptor) error {
		id, ok, err := getNested(nd, descriptor.FieldItem)
		if err != nil {
			return err
		}
		if !ok {
			return descriptor.ErrAbsent
		}
		it := c.DecodeItem(id)
		if it == nil {
			return fmt.Errorf("apparel item not decodable")
		}
		if def, _ := c.cat.Item(it.Def); !def.Apparel {
			return fmt.Errorf("%s is not apparel", it.Def)
		}
		corpse, _, err := getBool(nd, descriptor.FieldWornByCorpse)
		if err != nil {
			return err
		}
		a.Apparel = append(a.Apparel, entity.Worn{Item: it, WornByCorpse: corpse})
		return nil
	})
}

// An agent without a weapon encodes the weapon field as Absent.
func (c *Codec) encodeWeapon(a *entity.Agent) (staged, error) {
	if a.Weapon == nil {
		return nil, nil
	}
	wd := c.EncodeItem(a.Weapon)
	if wd == nil {
		return nil, fmt.Errorf("weapon %s not encodable", a.Weapon.Def)
	}
	return staged{descriptor.FieldWeapon: descriptor.Nested(wd)}, nil
}

func (c *Codec) decodeWeapon(d *descriptor.Descriptor, a *entity.Agent) error {
	a.Weapon = nil
	wd, ok, err := getNested(d, descriptor.FieldWeapon)
	if err != nil || !ok {
		return err
	}
	it := c.DecodeItem(wd)
	if it == nil {
		return fmt.Errorf("weapon not decodable")
	}
	if def, _ := c.cat.Item(it.Def); !def.Weapon {
		return fmt.Errorf("%s is not a weapon", it.Def)
	}
	a.Weapon = it
	return nil
}

func (c *Codec) encodeInventory(a *entity.Agent) (staged, error) {
	list := make([]descriptor.Value, 0, len(a.Inventory))
	for _, it := range a.Inventory {
		if id := c.EncodeItem(it); id != nil {
			list = append(list, descriptor.Nested(id))
		}
	}
	return staged{descriptor.FieldInventory: descriptor.List(list...)}, nil
}

func (c *Codec) decodeInventory(d *descriptor.Descriptor, a *entity.Agent) error {
	a.Inventory = a.Inventory[:0]
	return c.eachNested(a.Name, "inventory", d, descriptor.FieldInventory, func(nd *descriptor.Descriptor) error {
		it := c.DecodeItem(nd)
		if it == nil {
			return fmt.Errorf("inventory item not decodable")
		}
		a.Inventory = append(a.Inventory, it)
		return nil
	})
}

// optionalDef reads a def id where the empty string means "none".
func (c *Codec) optionalDef(d *descriptor.Descriptor, field string, kind catalogs.DefKind) (string, bool, error) {
	s, ok, err := getString(d, field)
	if err != nil || !ok || s == "" {
		return s, ok, err
	}
	if err := c.cat.Check(kind, s); err != nil {
		return "", false, err
	}
	return s, true, nil
}

func (c *Codec) requiredDef(d *descriptor.Descriptor, field string, kind catalogs.DefKind) (string, error) {
	s, ok, err := getString(d, field)
	if err != nil {
		return "", err
	}
	if !ok || s == "" {
		return "", fmt.Errorf("%s: missing", field)
	}
	if err := c.cat.Check(kind, s); err != nil {
		return "", err
	}
	return s, nil
}

func ensureStory(a *entity.Agent) *entity.Story {
	if a.Story == nil {
		a.Story = &entity.Story{}
	}
	return a.Story
}

func ensureGenes(a *entity.Agent) *entity.Genes {
	if a.Genes == nil {
		a.Genes = &entity.Genes{}
	}
	return a.Genes
}
