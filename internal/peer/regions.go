package peer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/codec/scribe"
)

// ExportRegion writes a settlement's region, with every kind of content,
// to path as zstd-compressed JSON.
func (p *Peer) ExportRegion(location, path string) error {
	d, err := p.world.ExportRegion(location, scribe.RegionEncodeOptions{
		ContainsAgents:    true,
		ContainsCreatures: true,
		ContainsItems:     true,
	})
	if err != nil {
		return err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("region %s: %w", location, err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	defer enc.Close()
	if err := os.WriteFile(path, enc.EncodeAll(raw, nil), 0o644); err != nil {
		return err
	}
	p.log.Info("region exported", zap.String("location", location), zap.String("path", path), zap.Int("bytes", len(raw)))
	return nil
}

// ImportRegion loads a region file as settlement id. Loot is thinned with
// the configured keep probability.
func (p *Peer) ImportRegion(path, id string) error {
	packed, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(packed, nil)
	if err != nil {
		return fmt.Errorf("region file %s: %w", path, err)
	}
	var d descriptor.Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("region file %s: %w", path, err)
	}
	for _, f := range d.Faults() {
		p.log.Warn("region field fault", zap.String("path", path), zap.String("field", f.Field), zap.Error(f.Err))
	}
	_, err = p.world.ImportRegion(id, &d, scribe.RegionDecodeOptions{
		ContainsItems:       true,
		LessLoot:            true,
		LootKeepProbability: p.cfg.LootKeepProbability,
	})
	return err
}
