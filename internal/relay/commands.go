package relay

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"caravan.ai/internal/persistence/audit"
	"caravan.ai/internal/persistence/ledger"
	"caravan.ai/internal/protocol"
)

var (
	ErrUnknownPlayer   = errors.New("unknown player")
	ErrPlayerOffline   = errors.New("player offline")
	ErrUnknownLocation = errors.New("unknown location")
	ErrMissingTarget   = errors.New("command needs a target")
)

// Command applies an administrative command. Broadcast, quit and forcesave
// go to every peer when target is empty; the others name one player.
func (h *Hub) Command(kind protocol.CommandKind, target, text string) error {
	var err error
	switch kind {
	case protocol.CommandOp, protocol.CommandDeop:
		err = h.setAdmin(target, kind == protocol.CommandOp)
	case protocol.CommandBan:
		err = h.ban(target)
	case protocol.CommandDisconnect:
		err = h.kick(target, kind, text)
	case protocol.CommandQuit, protocol.CommandBroadcast, protocol.CommandForceSave:
		if target == "" {
			for _, s := range h.online() {
				h.pushCommand(s, kind, text)
				if kind == protocol.CommandQuit {
					_ = s.conn.Close()
				}
			}
		} else if kind == protocol.CommandQuit {
			err = h.kick(target, kind, text)
		} else {
			s := h.session(target)
			if s == nil {
				err = fmt.Errorf("%s: %w", target, ErrPlayerOffline)
			} else {
				h.pushCommand(s, kind, text)
			}
		}
	default:
		err = fmt.Errorf("unknown command %d", int(kind))
	}

	outcome := "ok"
	if err != nil {
		outcome = err.Error()
	}
	h.metrics.Commands.WithLabelValues(kind.String()).Inc()
	h.ledger.RecordCommand(ledger.Command{Command: kind.String(), Target: target, Text: text})
	h.writeAudit(audit.Entry{Kind: "command", Actor: "admin", Target: target, Detail: kind.String(), Outcome: outcome})
	h.log.Info("admin command", zap.Stringer("command", kind), zap.String("target", target), zap.String("outcome", outcome))
	return err
}

func (h *Hub) pushCommand(s *Session, kind protocol.CommandKind, text string) {
	if err := s.conn.Enqueue(protocol.MustPacket(protocol.TypeCommand, protocol.CommandBody{Kind: kind, Text: text})); err != nil {
		h.log.Warn("command not delivered", zap.String("user", s.Username), zap.Stringer("command", kind), zap.Error(err))
	}
}

func (h *Hub) known(name string) bool {
	_, acct := h.accounts[name]
	_, online := h.sessions[name]
	return acct || online
}

func (h *Hub) setAdmin(target string, on bool) error {
	if target == "" {
		return ErrMissingTarget
	}
	h.mu.Lock()
	if !h.known(target) {
		h.mu.Unlock()
		return fmt.Errorf("%s: %w", target, ErrUnknownPlayer)
	}
	if on {
		h.admins[target] = true
	} else {
		delete(h.admins, target)
	}
	s := h.sessions[target]
	h.mu.Unlock()
	if s != nil {
		kind := protocol.CommandDeop
		if on {
			kind = protocol.CommandOp
		}
		h.pushCommand(s, kind, "")
	}
	return nil
}

func (h *Hub) ban(target string) error {
	if target == "" {
		return ErrMissingTarget
	}
	h.mu.Lock()
	h.banned[target] = true
	s := h.sessions[target]
	h.mu.Unlock()
	if s != nil {
		h.pushCommand(s, protocol.CommandBan, "")
		_ = s.conn.Close()
		h.Leave(s)
	}
	return nil
}

func (h *Hub) kick(target string, kind protocol.CommandKind, text string) error {
	if target == "" {
		return ErrMissingTarget
	}
	s := h.session(target)
	if s == nil {
		return fmt.Errorf("%s: %w", target, ErrPlayerOffline)
	}
	h.pushCommand(s, kind, text)
	_ = s.conn.Close()
	h.Leave(s)
	return nil
}

// InjectEvent delivers an unpaid event to the owner of location.
func (h *Hub) InjectEvent(kind protocol.EventKind, location string) error {
	if !kind.Valid() {
		return fmt.Errorf("event %d: invalid kind", int(kind))
	}
	owner, s := h.ownerSession(location)
	switch {
	case owner == "":
		return fmt.Errorf("%s: %w", location, ErrUnknownLocation)
	case s == nil:
		return fmt.Errorf("%s: %w", owner, ErrPlayerOffline)
	}
	ev := protocol.EventBody{Step: protocol.EventReceive, Kind: kind, To: location}
	if err := s.conn.Enqueue(protocol.MustPacket(protocol.TypeEvent, ev)); err != nil {
		return err
	}
	h.metrics.Events.WithLabelValues(kind.String(), "injected").Inc()
	h.ledger.RecordEvent(ledger.Event{Kind: kind.String(), To: location, Sender: "admin", Outcome: "injected"})
	h.writeAudit(audit.Entry{Kind: "event", Actor: "admin", Target: location, Detail: kind.String(), Outcome: "injected"})
	return nil
}
