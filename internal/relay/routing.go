package relay

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"caravan.ai/internal/persistence/audit"
	"caravan.ai/internal/persistence/ledger"
	"caravan.ai/internal/protocol"
	"caravan.ai/internal/transfer/manifest"
)

var (
	errNoPermission = errors.New("sender does not own the location")
	errUnroutable   = errors.New("no online owner for location")
)

// forward reports whether a step travels from the manifest's origin to its
// destination. Replies travel the other way.
func forward(step manifest.Step) bool {
	return step == manifest.StepRequest || step == manifest.StepReRequest
}

// routeTransfer forwards a manifest to the owner of the location it is
// addressed to. The original packet bytes are relayed untouched.
func (h *Hub) routeTransfer(s *Session, p protocol.Packet) {
	var body protocol.TransferBody
	if err := p.DecodeBody(&body); err != nil {
		h.sendError(s, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	mf, err := manifest.Decode(body.Manifest)
	if err != nil {
		h.log.Warn("bad manifest from peer", zap.String("user", s.Username), zap.Error(err))
		h.sendError(s, protocol.ErrBadManifest, err.Error())
		h.recordTransfer(s, nil, "", "bad_manifest", "")
		return
	}
	if mf.Step == manifest.StepRecover {
		h.sendError(s, protocol.ErrProtoBadRequest, "RECOVER is relay-issued")
		h.recordTransfer(s, mf, "", "refused", "")
		return
	}

	own, target := mf.From, mf.To
	if !forward(mf.Step) {
		own, target = mf.To, mf.From
	}
	if !h.owns(s, own) {
		h.sendError(s, protocol.ErrNoPermission, fmt.Sprintf("%s: %s", own, errNoPermission))
		h.recordTransfer(s, mf, "", "refused", "")
		return
	}

	owner, dst := h.ownerSession(target)
	if dst == s {
		// A peer cannot trade with itself.
		dst = nil
	}
	if dst == nil {
		h.unroutable(s, mf, owner, target)
		return
	}
	if err := dst.conn.Enqueue(p); err != nil {
		h.log.Warn("transfer not delivered", zap.String("to", dst.Username), zap.Error(err))
		h.unroutable(s, mf, owner, target)
		return
	}
	h.log.Debug("transfer routed",
		zap.String("id", mf.ID.String()),
		zap.Stringer("step", mf.Step),
		zap.String("from", s.Username),
		zap.String("to", dst.Username))
	h.recordTransfer(s, mf, dst.Username, "routed", body.Manifest)
}

// unroutable bounces requests back as RECOVER so the sender restores its
// goods. Replies to an absent peer are dropped; that peer already cleared
// its session on disconnect.
func (h *Hub) unroutable(s *Session, mf *manifest.Manifest, owner, target string) {
	code := protocol.ErrPeerOffline
	if owner == "" {
		code = protocol.ErrUnknownLocation
	}
	if !forward(mf.Step) {
		h.log.Info("transfer reply dropped", zap.String("id", mf.ID.String()), zap.Stringer("step", mf.Step), zap.String("target", target))
		h.recordTransfer(s, mf, owner, "dropped", "")
		return
	}
	wire, err := manifest.Encode(mf.WithStep(manifest.StepRecover))
	if err != nil {
		h.log.Error("recover encode failed", zap.Error(err))
		h.sendError(s, protocol.ErrInternal, err.Error())
		return
	}
	if err := s.conn.Enqueue(protocol.MustPacket(protocol.TypeTransfer, protocol.TransferBody{Manifest: wire})); err != nil {
		h.log.Error("recover not delivered, sender keeps waiting",
			zap.String("id", mf.ID.String()),
			zap.String("user", s.Username),
			zap.Error(err))
		h.recordTransfer(s, mf, owner, "lost", "")
		return
	}
	h.sendError(s, code, fmt.Sprintf("%s: %s", target, errUnroutable))
	h.log.Info("transfer recovered", zap.String("id", mf.ID.String()), zap.String("target", target), zap.String("code", code))
	h.recordTransfer(s, mf, owner, "recovered", "")
}

func (h *Hub) recordTransfer(s *Session, mf *manifest.Manifest, recipient, outcome, wire string) {
	step, mode, id, from, to := "", "", "", "", ""
	if mf != nil {
		step, mode, id, from, to = mf.Step.String(), string(mf.Mode), mf.ID.String(), mf.From, mf.To
	}
	h.metrics.Transfers.WithLabelValues(step, outcome).Inc()
	h.ledger.RecordTransfer(ledger.Transfer{
		ID: id, Step: step, Mode: mode, From: from, To: to,
		Sender: s.Username, Recipient: recipient, Outcome: outcome,
	})
	h.writeAudit(audit.Entry{Kind: "transfer", Actor: s.Username, Target: recipient, Detail: step, Outcome: outcome, Manifest: wire})
}

// routeEvent delivers a paid event to the owner of its target location.
func (h *Hub) routeEvent(s *Session, p protocol.Packet) {
	var ev protocol.EventBody
	if err := p.DecodeBody(&ev); err != nil {
		h.sendError(s, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	if ev.Step != protocol.EventSend || !ev.Kind.Valid() {
		h.sendError(s, protocol.ErrBadEvent, fmt.Sprintf("step %d kind %d", ev.Step, ev.Kind))
		h.recordEvent(s, ev, "refused")
		return
	}
	if ev.From != "" && !h.owns(s, ev.From) {
		h.sendError(s, protocol.ErrNoPermission, fmt.Sprintf("%s: %s", ev.From, errNoPermission))
		h.recordEvent(s, ev, "refused")
		return
	}
	owner, dst := h.ownerSession(ev.To)
	if dst == s {
		dst = nil
	}
	if dst != nil {
		recv := ev
		recv.Step = protocol.EventReceive
		if err := dst.conn.Enqueue(protocol.MustPacket(protocol.TypeEvent, recv)); err == nil {
			if err := s.conn.Enqueue(protocol.MustPacket(protocol.TypeEvent, ev)); err != nil {
				h.log.Warn("event confirmation not delivered", zap.String("user", s.Username), zap.Error(err))
			}
			h.log.Info("event routed", zap.Stringer("event", ev.Kind), zap.String("from", s.Username), zap.String("to", dst.Username))
			h.recordEvent(s, ev, "routed")
			return
		}
	}
	rec := ev
	rec.Step = protocol.EventRecover
	if err := s.conn.Enqueue(protocol.MustPacket(protocol.TypeEvent, rec)); err != nil {
		h.log.Error("event recover not delivered, silver not refunded",
			zap.Stringer("event", ev.Kind),
			zap.String("user", s.Username),
			zap.Error(err))
		h.recordEvent(s, ev, "lost")
		return
	}
	code := protocol.ErrPeerOffline
	if owner == "" {
		code = protocol.ErrUnknownLocation
	}
	h.sendError(s, code, fmt.Sprintf("%s: %s", ev.To, errUnroutable))
	h.recordEvent(s, ev, "recovered")
}

func (h *Hub) recordEvent(s *Session, ev protocol.EventBody, outcome string) {
	h.metrics.Events.WithLabelValues(ev.Kind.String(), outcome).Inc()
	h.ledger.RecordEvent(ledger.Event{Kind: ev.Kind.String(), From: ev.From, To: ev.To, Sender: s.Username, Outcome: outcome})
	h.writeAudit(audit.Entry{Kind: "event", Actor: s.Username, Target: ev.To, Detail: ev.Kind.String(), Outcome: outcome})
}
