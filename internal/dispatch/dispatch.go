// Package dispatch routes relay packets on a peer: transfers to the
// negotiation machine, administrative commands, world events and login
// results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"caravan.ai/internal/protocol"
	"caravan.ai/internal/sim/world"
	"caravan.ai/internal/transfer/negotiation"
)

var (
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrUnknownEvent = errors.New("unknown event kind")
)

// World is the part of the local simulation commands and events touch.
type World interface {
	ApplyEvent(kind, location string) (world.EventRecord, error)
	SpendSilver(qty int) error
	SendSilverToCaravan(qty int) error
	Caravan() string
	Save() error
}

type Deps struct {
	Machine   *negotiation.Machine
	World     World
	Transport negotiation.Transport
	Presenter negotiation.Presenter
	// OnQuit is called when the relay ends the session (quit, ban,
	// disconnect, failed login).
	OnQuit func(reason string)
	Logger *zap.Logger
}

// Dispatcher is driven by the peer loop; its state is guarded for readers
// on other goroutines.
type Dispatcher struct {
	machine   *negotiation.Machine
	world     World
	transport negotiation.Transport
	presenter negotiation.Presenter
	onQuit    func(string)
	log       *zap.Logger

	mu        sync.Mutex
	loggedIn  bool
	sessionID string
	admin     bool
	prices    PriceTable
	roster    []string
}

func New(d Deps) *Dispatcher {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.OnQuit == nil {
		d.OnQuit = func(string) {}
	}
	return &Dispatcher{
		machine:   d.Machine,
		world:     d.World,
		transport: d.Transport,
		presenter: d.Presenter,
		onQuit:    d.OnQuit,
		log:       d.Logger.Named("dispatch"),
	}
}

// Dispatch runs the single handler selected by the packet type.
func (d *Dispatcher) Dispatch(ctx context.Context, p protocol.Packet) error {
	if p.ProtocolVersion != protocol.Version {
		d.log.Warn("packet version mismatch", zap.String("type", p.Type), zap.String("version", p.ProtocolVersion))
		return fmt.Errorf("%s: protocol version %q", protocol.ErrProtoVersion, p.ProtocolVersion)
	}
	switch p.Type {
	case protocol.TypeTransfer:
		return d.machine.Handle(ctx, p)
	case protocol.TypeCommand:
		var body protocol.CommandBody
		if err := p.DecodeBody(&body); err != nil {
			d.log.Warn("command dropped", zap.Error(err))
			return err
		}
		return d.command(body)
	case protocol.TypeEvent:
		var body protocol.EventBody
		if err := p.DecodeBody(&body); err != nil {
			d.log.Warn("event dropped", zap.Error(err))
			return err
		}
		return d.event(body)
	case protocol.TypeLoginResponse:
		var body protocol.LoginResponseBody
		if err := p.DecodeBody(&body); err != nil {
			d.log.Warn("login response dropped", zap.Error(err))
			return err
		}
		d.loginResponse(body)
		return nil
	case protocol.TypeRecount:
		var body protocol.RecountBody
		if err := p.DecodeBody(&body); err != nil {
			return err
		}
		d.mu.Lock()
		d.roster = append([]string(nil), body.Players...)
		d.mu.Unlock()
		d.log.Debug("roster updated", zap.Int("players", len(body.Players)))
		return nil
	case protocol.TypeError:
		var body protocol.ErrorBody
		if err := p.DecodeBody(&body); err != nil {
			return err
		}
		d.log.Warn("relay error", zap.String("code", body.Code), zap.String("message", body.Message))
		return nil
	}
	d.log.Debug("unknown packet ignored", zap.String("type", p.Type))
	return nil
}

func (d *Dispatcher) command(body protocol.CommandBody) error {
	d.log.Info("command received", zap.Stringer("command", body.Kind))
	switch body.Kind {
	case protocol.CommandOp:
		d.setAdmin(true)
		d.notice(negotiation.NoticeSuccess, "You are now an admin")
	case protocol.CommandDeop:
		d.setAdmin(false)
		d.notice(negotiation.NoticeCancelled, "You are no longer an admin")
	case protocol.CommandBan:
		d.end("You have been banned from the server")
	case protocol.CommandDisconnect:
		d.end("You have been disconnected from the server")
	case protocol.CommandQuit:
		d.end("The server is shutting down")
	case protocol.CommandBroadcast:
		d.notice(negotiation.NoticeSuccess, body.Text)
	case protocol.CommandForceSave:
		return d.forceSave()
	default:
		d.log.Debug("unknown command ignored", zap.Int("kind", int(body.Kind)))
	}
	return nil
}

func (d *Dispatcher) event(body protocol.EventBody) error {
	if !body.Kind.Valid() {
		d.log.Debug("unknown event ignored", zap.Int("kind", int(body.Kind)))
		return nil
	}
	switch body.Step {
	case protocol.EventSend:
		d.notice(negotiation.NoticeSuccess, fmt.Sprintf("Event %s was sent", body.Kind))
	case protocol.EventReceive:
		if !d.ready() {
			d.log.Info("event ignored before ready", zap.Stringer("event", body.Kind), zap.String("to", body.To))
			return nil
		}
		rec, err := d.world.ApplyEvent(body.Kind.String(), body.To)
		if err != nil {
			d.log.Error("event not applied", zap.Stringer("event", body.Kind), zap.String("to", body.To), zap.Error(err))
			return err
		}
		d.notice(negotiation.NoticeSuccess, fmt.Sprintf("Event %s arrived at %s", body.Kind, rec.Location))
	case protocol.EventRecover:
		cost := d.Prices().Cost(body.Kind)
		if err := d.world.SendSilverToCaravan(cost); err != nil {
			d.log.Error("event refund failed", zap.Stringer("event", body.Kind), zap.Int("silver", cost), zap.Error(err))
			return err
		}
		d.notice(negotiation.NoticeError, fmt.Sprintf("Event %s could not be delivered, %d silver refunded", body.Kind, cost))
	default:
		d.log.Debug("unknown event step ignored", zap.Int("step", int(body.Step)))
	}
	return nil
}

// forceSave saves the world and then leaves the relay. A peer that is not
// ready has nothing to save and only leaves.
func (d *Dispatcher) forceSave() error {
	if !d.ready() {
		d.end("You have been disconnected from the server")
		return nil
	}
	err := d.world.Save()
	if err != nil {
		d.log.Error("forced save failed", zap.Error(err))
	}
	d.end("The server saved your world and disconnected you")
	return err
}

func (d *Dispatcher) ready() bool {
	return d.machine != nil && d.machine.Session().Ready()
}

func (d *Dispatcher) loginResponse(body protocol.LoginResponseBody) {
	if body.Result != protocol.LoginSuccess {
		d.log.Warn("login refused", zap.Stringer("result", body.Result), zap.String("message", body.Message))
		d.end(fmt.Sprintf("Login refused: %s", body.Result))
		return
	}
	prices, err := NewPriceTable(body.Prices)
	if err != nil {
		d.log.Warn("price table rejected, events are free", zap.Error(err))
	}
	d.mu.Lock()
	d.loggedIn = true
	d.sessionID = body.SessionID
	d.admin = body.Admin
	d.prices = prices
	d.mu.Unlock()
	if d.machine != nil {
		d.machine.Session().SetReady(true)
	}
	d.log.Info("logged in", zap.String("session", body.SessionID), zap.Bool("admin", body.Admin))
}

// SendEvent charges the event price from the caravan's silver and asks the
// relay to deliver the event to location to.
func (d *Dispatcher) SendEvent(kind protocol.EventKind, to string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownEvent, int(kind))
	}
	if !d.LoggedIn() {
		return ErrNotLoggedIn
	}
	cost := d.Prices().Cost(kind)
	if err := d.world.SpendSilver(cost); err != nil {
		d.notice(negotiation.NoticeError, fmt.Sprintf("Not enough silver for %s", kind))
		return err
	}
	body := protocol.EventBody{Step: protocol.EventSend, Kind: kind, From: d.world.Caravan(), To: to}
	if err := d.transport.Enqueue(protocol.MustPacket(protocol.TypeEvent, body)); err != nil {
		if rerr := d.world.SendSilverToCaravan(cost); rerr != nil {
			d.log.Error("event refund failed", zap.Error(rerr))
		}
		return err
	}
	d.log.Info("event sent", zap.Stringer("event", kind), zap.String("to", to), zap.Int("silver", cost))
	return nil
}

func (d *Dispatcher) end(reason string) {
	d.mu.Lock()
	d.loggedIn = false
	d.mu.Unlock()
	if d.machine != nil {
		d.machine.Session().SetReady(false)
		d.machine.Disconnect()
	}
	d.log.Info("session ended", zap.String("reason", reason))
	d.notice(negotiation.NoticeError, reason)
	d.onQuit(reason)
}

func (d *Dispatcher) notice(n negotiation.Notice, text string) {
	if d.presenter != nil {
		d.presenter.Notice(n, text)
	}
}

func (d *Dispatcher) setAdmin(v bool) {
	d.mu.Lock()
	d.admin = v
	d.mu.Unlock()
}

func (d *Dispatcher) Admin() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.admin
}

func (d *Dispatcher) LoggedIn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loggedIn
}

func (d *Dispatcher) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

func (d *Dispatcher) Prices() PriceTable {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prices
}

func (d *Dispatcher) Roster() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.roster...)
}
