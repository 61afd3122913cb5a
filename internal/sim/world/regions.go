package world

import (
	"fmt"

	"go.uber.org/zap"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/codec/scribe"
	"caravan.ai/internal/sim/entity"
)

// ExportRegion encodes a settlement's region with the selected contents.
func (w *World) ExportRegion(id string, opts scribe.RegionEncodeOptions) (*descriptor.Descriptor, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	loc, ok := w.locations[id]
	if !ok || loc.Kind != KindSettlement {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownLocation)
	}
	return w.codec.EncodeRegion(loc.Region, opts), nil
}

// ImportRegion decodes d into a settlement registered as id, replacing any
// settlement already there. The caravan cannot be replaced.
func (w *World) ImportRegion(id string, d *descriptor.Descriptor, opts scribe.RegionDecodeOptions) (*Location, error) {
	r, err := w.codec.DecodeRegion(d, opts)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = r.ID
	}
	r.ID = id

	w.mu.Lock()
	defer w.mu.Unlock()
	if id == w.caravan {
		return nil, fmt.Errorf("%s: cannot import over the caravan", id)
	}
	loc := &Location{ID: id, Kind: KindSettlement, Region: r}
	w.locations[id] = loc
	w.log.Info("region imported",
		zap.String("location", id),
		zap.Int("agents", r.Count(entity.KindAgent)),
		zap.Int("creatures", r.Count(entity.KindCreature)),
		zap.Int("items", r.Count(entity.KindItem)))
	return loc, nil
}
