package entity

// Region is a bounded grid of terrain/roof cells with the entities placed in
// it. Cells are indexed row-major: index = z*Size.X + x.
type Region struct {
	ID      string
	Size    Vec3i
	Terrain []string
	Roofs   []string // empty string: no roof
	Things  []Entity
}

func NewRegion(id string, size Vec3i, terrain string) *Region {
	n := size.X * size.Z
	if n < 0 {
		n = 0
	}
	r := &Region{
		ID:      id,
		Size:    size,
		Terrain: make([]string, n),
		Roofs:   make([]string, n),
	}
	for i := range r.Terrain {
		r.Terrain[i] = terrain
	}
	return r
}

func (r *Region) Cells() int { return len(r.Terrain) }

func (r *Region) Index(x, z int) (int, bool) {
	if x < 0 || z < 0 || x >= r.Size.X || z >= r.Size.Z {
		return 0, false
	}
	return z*r.Size.X + x, true
}

func (r *Region) InBounds(p Vec3i) bool {
	_, ok := r.Index(p.X, p.Z)
	return ok
}

func (r *Region) Center() Vec3i {
	return Vec3i{X: r.Size.X / 2, Y: 0, Z: r.Size.Z / 2}
}

func (r *Region) Add(e Entity) {
	if e == nil {
		return
	}
	r.Things = append(r.Things, e)
}

func (r *Region) Remove(e Entity) bool {
	for i, t := range r.Things {
		if t == e {
			r.Things = append(r.Things[:i], r.Things[i+1:]...)
			return true
		}
	}
	return false
}

// ThingsAt returns entities whose position falls in cell (x, z).
func (r *Region) ThingsAt(x, z int) []Entity {
	var out []Entity
	for _, t := range r.Things {
		p := t.Position()
		if p.X == x && p.Z == z {
			out = append(out, t)
		}
	}
	return out
}

func (r *Region) Count(kind Kind) int {
	n := 0
	for _, t := range r.Things {
		if t.Kind() == kind {
			n++
		}
	}
	return n
}
