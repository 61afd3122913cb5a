package encoding

import "fmt"

// EncodePalette compacts per-cell ids into a palette (first-seen order) and
// an RLE string of palette indices.
func EncodePalette(cells []string) ([]string, string, error) {
	index := map[string]uint16{}
	palette := []string{}
	ids := make([]uint16, len(cells))
	for i, c := range cells {
		idx, ok := index[c]
		if !ok {
			if len(palette) > 0xFFFF {
				return nil, "", fmt.Errorf("palette overflow at cell %d", i)
			}
			idx = uint16(len(palette))
			index[c] = idx
			palette = append(palette, c)
		}
		ids[i] = idx
	}
	return palette, EncodeRLE(ids), nil
}

// DecodePalette expands palette + RLE back into exactly want cells.
func DecodePalette(palette []string, rle string, want int) ([]string, error) {
	ids, err := DecodeRLE(rle, want)
	if err != nil {
		return nil, err
	}
	if len(ids) != want {
		return nil, fmt.Errorf("%w: got %d want %d", ErrCellCount, len(ids), want)
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		if int(id) >= len(palette) {
			return nil, fmt.Errorf("cell %d: palette index %d out of range", i, id)
		}
		out[i] = palette[id]
	}
	return out, nil
}
