// Package peer runs a headless peer: it logs in, answers transfer offers
// with a fixed policy, and can start gifts, trades, drop pods and events.
package peer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"caravan.ai/internal/config"
	"caravan.ai/internal/dispatch"
	"caravan.ai/internal/protocol"
	"caravan.ai/internal/sim/entity"
	"caravan.ai/internal/sim/world"
	"caravan.ai/internal/transfer/manifest"
	"caravan.ai/internal/transfer/negotiation"
)

// Policy decides incoming offers.
type Policy string

const (
	PolicyAccept  Policy = "accept"
	PolicyReject  Policy = "reject"
	PolicyCounter Policy = "counter"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAccept, PolicyReject, PolicyCounter:
		return p, nil
	case "":
		return PolicyAccept, nil
	}
	return "", fmt.Errorf("unknown policy %q", s)
}

// Pick selects count units of an item definition, e.g. "Steel:5". A def
// written as "@Rex" picks the agent or creature with that name instead.
type Pick struct {
	Def   string
	Count int
}

// ParsePicks reads a comma separated list of def:count pairs. A bare def
// means one unit.
func ParsePicks(s string) ([]Pick, error) {
	var out []Pick
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		def, n, found := strings.Cut(part, ":")
		p := Pick{Def: strings.TrimSpace(def), Count: 1}
		if found {
			c, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil || c <= 0 {
				return nil, fmt.Errorf("pick %q: bad count", part)
			}
			p.Count = c
		}
		if p.Def == "" {
			return nil, fmt.Errorf("pick %q: empty def", part)
		}
		out = append(out, p)
	}
	return out, nil
}

type Options struct {
	Config    config.PeerConfig
	World     *world.World
	Assembler *manifest.Assembler
	Transport negotiation.Transport
	Policy    Policy
	// Counter is what a counter policy offers back from the receiving
	// settlement.
	Counter []Pick
	// OnNotice sees every terminal transfer notice and relay notice.
	OnNotice func(negotiation.Notice, string)
	OnQuit   func(reason string)
	// OnReady runs once on the peer loop after the first successful login.
	OnReady func(ctx context.Context)
	Logger  *zap.Logger
}

type Peer struct {
	cfg       config.PeerConfig
	world     *world.World
	asm       *manifest.Assembler
	transport negotiation.Transport
	policy    Policy
	counter   []Pick
	onNotice  func(negotiation.Notice, string)
	onReady   func(context.Context)
	log       *zap.Logger

	machine    *negotiation.Machine
	dispatcher *dispatch.Dispatcher

	offered bool
	readied bool
}

func New(o Options) *Peer {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.OnNotice == nil {
		o.OnNotice = func(negotiation.Notice, string) {}
	}
	if o.Policy == "" {
		o.Policy = PolicyAccept
	}
	p := &Peer{
		cfg:       o.Config,
		world:     o.World,
		asm:       o.Assembler,
		transport: o.Transport,
		policy:    o.Policy,
		counter:   o.Counter,
		onNotice:  o.OnNotice,
		onReady:   o.OnReady,
		log:       o.Logger.Named("peer"),
	}
	sess := negotiation.NewSession()
	sess.SetAutoDeny(o.Config.AutoDenyTransfers)
	p.machine = negotiation.New(negotiation.Deps{
		Session:      sess,
		Assembler:    o.Assembler,
		Transport:    o.Transport,
		Placement:    o.World,
		Presenter:    p,
		Launcher:     o.World,
		Saver:        o.World,
		Retry:        o.Config.Recovery.Policy(),
		ReplyTimeout: o.Config.ReplyTimeout(),
		Logger:       o.Logger,
	})
	p.dispatcher = dispatch.New(dispatch.Deps{
		Machine:   p.machine,
		World:     o.World,
		Transport: o.Transport,
		Presenter: p,
		OnQuit:    o.OnQuit,
		Logger:    o.Logger,
	})
	return p
}

func (p *Peer) Machine() *negotiation.Machine    { return p.machine }
func (p *Peer) Dispatcher() *dispatch.Dispatcher { return p.dispatcher }
func (p *Peer) World() *world.World              { return p.world }
func (p *Peer) Session() *negotiation.Session    { return p.machine.Session() }

// Login asks the relay for a session, registering every local location.
func (p *Peer) Login() error {
	return p.transport.Enqueue(protocol.MustPacket(protocol.TypeLogin, protocol.LoginBody{
		Username:      p.cfg.Username,
		Password:      p.cfg.Password,
		ClientVersion: protocol.Version,
		CatalogDigest: p.world.Codec().Catalog().Digest,
		Locations:     p.world.Locations(),
	}))
}

// Run feeds inbound packets to the dispatcher until in closes or ctx ends.
// Offers are decided after the packet that raised them is handled. Stale
// negotiations are expired on the same loop.
func (p *Peer) Run(ctx context.Context, in <-chan protocol.Packet) error {
	ticker := time.NewTicker(tickInterval(p.cfg.ReplyTimeout()))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			p.Tick(ctx, now)
		case pkt, ok := <-in:
			if !ok {
				p.machine.Disconnect()
				return nil
			}
			p.Handle(ctx, pkt)
		}
	}
}

// Tick expires a negotiation that waited past the reply timeout.
func (p *Peer) Tick(ctx context.Context, now time.Time) {
	if err := p.machine.Tick(ctx, now); err != nil {
		p.log.Warn("expiring negotiation failed", zap.Error(err))
	}
}

func tickInterval(timeout time.Duration) time.Duration {
	iv := timeout / 4
	if iv <= 0 || iv > time.Second {
		return time.Second
	}
	if iv < 10*time.Millisecond {
		return 10 * time.Millisecond
	}
	return iv
}

// Handle dispatches one packet and then settles any offer it raised.
func (p *Peer) Handle(ctx context.Context, pkt protocol.Packet) {
	if err := p.dispatcher.Dispatch(ctx, pkt); err != nil {
		p.log.Debug("packet not handled", zap.String("type", pkt.Type), zap.Error(err))
	}
	if p.offered {
		p.offered = false
		p.decide(ctx)
	}
	if !p.readied && p.machine.Session().Ready() {
		p.readied = true
		if p.onReady != nil {
			p.onReady(ctx)
		}
	}
}

func (p *Peer) decide(ctx context.Context) {
	sess := p.machine.Session()
	var err error
	switch sess.State() {
	case negotiation.StateDeciding:
		if p.policy == PolicyReject {
			err = p.machine.Reject(ctx)
			break
		}
		var counter []entity.Entity
		if in := sess.Incoming(); p.policy == PolicyCounter && in != nil && in.Mode == manifest.ModeTrade {
			counter = p.take(in.To, p.counter)
		}
		err = p.machine.Accept(ctx, counter)
	case negotiation.StateReboundDeciding:
		if p.policy == PolicyReject {
			err = p.machine.RejectRebound(ctx)
		} else {
			err = p.machine.AcceptRebound(ctx)
		}
	}
	if err != nil {
		p.log.Warn("offer decision failed", zap.String("policy", string(p.policy)), zap.Error(err))
	}
}

// take removes picks from location, skipping any it cannot cover.
func (p *Peer) take(location string, picks []Pick) []entity.Entity {
	var out []entity.Entity
	for _, pk := range picks {
		var (
			got []entity.Entity
			err error
		)
		if name, ok := strings.CutPrefix(pk.Def, "@"); ok {
			got, err = p.world.Take(location, func(e entity.Entity) bool {
				_, item := e.(*entity.Item)
				return !item && e.Label() == name
			})
			if err == nil && len(got) == 0 {
				err = world.ErrNotFound
			}
		} else {
			got, err = p.world.TakeItems(location, pk.Def, pk.Count)
		}
		if err != nil {
			p.log.Info("pick skipped", zap.String("location", location), zap.String("def", pk.Def), zap.Error(err))
			continue
		}
		out = append(out, got...)
	}
	return out
}

// restore puts taken goods back where they came from.
func (p *Peer) restore(location string, ents []entity.Entity) {
	for _, e := range ents {
		var err error
		if it, ok := e.(*entity.Item); ok {
			err = p.world.PlaceNear(location, it)
		} else {
			err = p.world.SpawnAt(location, e)
		}
		if err != nil {
			p.log.Error("goods not restored", zap.String("location", location), zap.String("entity", e.Label()), zap.Error(err))
		}
	}
}

// SendGoods takes picks out of the caravan and offers them to location to.
func (p *Peer) SendGoods(ctx context.Context, mode manifest.Mode, to string, picks []Pick) error {
	sess := p.machine.Session()
	if !sess.Ready() {
		return negotiation.ErrNotReady
	}
	if sess.InTransfer() {
		return negotiation.ErrBusy
	}
	caravan := p.world.Caravan()
	ents := p.take(caravan, picks)
	mf, err := p.asm.Assemble(caravan, to, mode, ents, nil)
	if err != nil {
		p.restore(caravan, ents)
		return err
	}
	if err := p.machine.Send(ctx, mf); err != nil {
		if errors.Is(err, negotiation.ErrBusy) || errors.Is(err, negotiation.ErrNotReady) {
			p.restore(caravan, ents)
		}
		return err
	}
	p.log.Info("offer sent", zap.String("mode", string(mode)), zap.String("to", to), zap.Int("entities", len(ents)))
	return nil
}

// SendEvent pays for and sends a world event to location to.
func (p *Peer) SendEvent(kind protocol.EventKind, to string) error {
	return p.dispatcher.SendEvent(kind, to)
}

// Offer implements negotiation.Presenter; the decision runs once the
// current packet is done.
func (p *Peer) Offer(m *manifest.Manifest, own, foreign []entity.Entity) {
	p.log.Info("offer received",
		zap.Stringer("id", m.ID),
		zap.String("mode", string(m.Mode)),
		zap.String("from", m.From),
		zap.Int("entities", len(own)),
		zap.Int("returned", len(foreign)))
	p.offered = true
}

func (p *Peer) Waiting(on bool) {
	p.log.Debug("waiting", zap.Bool("on", on))
}

func (p *Peer) Notice(n negotiation.Notice, text string) {
	p.log.Info("notice", zap.Stringer("kind", n), zap.String("text", text))
	p.onNotice(n, text)
}
