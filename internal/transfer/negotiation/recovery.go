package negotiation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"caravan.ai/internal/retry"
	"caravan.ai/internal/sim/entity"
	"caravan.ai/internal/transfer/manifest"
)

// recover puts the goods of an outgoing manifest back at the location they
// were taken from. Pods never left, so they need nothing.
func (m *Machine) recover(ctx context.Context, out *manifest.Manifest) error {
	if out == nil {
		return nil
	}
	m.sess.setState(StateRecovering)
	if out.Mode == manifest.ModeDropPod {
		return nil
	}
	m.log.Info("recovering staged goods", zap.Stringer("manifest", out.ID), zap.String("location", out.From))
	return m.materialize(ctx, out, "outgoing", out.From)
}

// materialize decodes the manifest's own descriptors and places each at
// location. The whole pass is retried under the machine's policy; entities
// placed by an earlier attempt are not placed again.
func (m *Machine) materialize(ctx context.Context, mf *manifest.Manifest, kind, location string) error {
	key := batchKey{id: mf.ID, kind: kind}
	m.sess.startBatch(key)
	ds := mf.Own()
	codec := m.asm.Codec()

	policy := m.policy
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error) {
			m.log.Warn("placement failed, retrying",
				zap.Stringer("manifest", mf.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}
	return retry.Do(ctx, policy, func(int) error {
		for i, d := range ds {
			if m.sess.isPlaced(key, i) {
				continue
			}
			e := codec.Decode(d)
			if e == nil {
				// entity fault, already logged by the codec
				m.sess.markPlaced(key, i)
				continue
			}
			if err := m.placeOne(location, e); err != nil {
				return fmt.Errorf("place %s at %s: %w", e.Label(), location, err)
			}
			m.sess.markPlaced(key, i)
		}
		return nil
	})
}

func (m *Machine) placeOne(location string, e entity.Entity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("placement panic: %v", r)
		}
	}()
	if it, ok := e.(*entity.Item); ok {
		return m.place.PlaceNear(location, it)
	}
	return m.place.SpawnAt(location, e)
}
