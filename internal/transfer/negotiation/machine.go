// Package negotiation runs the per-peer transfer state machine: request,
// accept or reject, the rebound counter offer, and recovery of staged goods.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"caravan.ai/internal/protocol"
	"caravan.ai/internal/retry"
	"caravan.ai/internal/sim/entity"
	"caravan.ai/internal/transfer/manifest"
)

var (
	ErrBusy           = errors.New("transfer already in progress")
	ErrNotReady       = errors.New("peer not ready")
	ErrNoPending      = errors.New("no transfer awaiting a decision")
	ErrUnexpectedStep = errors.New("unexpected transfer step")
)

// Transport queues a packet for delivery; ordering is preserved per
// connection.
type Transport interface {
	Enqueue(protocol.Packet) error
}

// Placement materializes entities at a location (a settlement or a
// caravan). Both calls may fail transiently.
type Placement interface {
	SpawnAt(location string, e entity.Entity) error
	PlaceNear(location string, it *entity.Item) error
}

type Notice int

const (
	NoticeSuccess Notice = iota
	NoticeCancelled
	NoticeError
)

func (n Notice) String() string {
	switch n {
	case NoticeSuccess:
		return "success"
	case NoticeCancelled:
		return "cancelled"
	}
	return "error"
}

// Presenter is the user-facing side of a negotiation.
type Presenter interface {
	// Offer shows a manifest awaiting a local decision. own are the
	// entities on offer; foreign are the local peer's own goods carried
	// back for reference in a rebound.
	Offer(m *manifest.Manifest, own, foreign []entity.Entity)
	Waiting(on bool)
	Notice(n Notice, text string)
}

// Launcher sends drop pods once a pod transfer is accepted.
type Launcher interface {
	Launch(m *manifest.Manifest) error
}

// Saver is asked to persist the local world after a successful transfer.
type Saver interface {
	Save() error
}

type Deps struct {
	Session   *Session
	Assembler *manifest.Assembler
	Transport Transport
	Placement Placement
	Presenter Presenter
	Launcher  Launcher
	Saver     Saver
	Retry     retry.Policy
	// ReplyTimeout bounds how long a sent step waits for an answer. A
	// pending local decision is declined after half of it. Zero waits
	// forever.
	ReplyTimeout time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Machine drives one Session. Handlers are expected to run on a single peer
// loop; the Session guards its fields for concurrent readers.
type Machine struct {
	sess      *Session
	asm       *manifest.Assembler
	transport Transport
	place     Placement
	presenter Presenter
	launcher  Launcher
	saver     Saver
	policy    retry.Policy
	timeout   time.Duration
	clock     func() time.Time
	log       *zap.Logger
}

func New(d Deps) *Machine {
	if d.Session == nil {
		d.Session = NewSession()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Presenter == nil {
		d.Presenter = nopPresenter{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &Machine{
		sess:      d.Session,
		asm:       d.Assembler,
		transport: d.Transport,
		place:     d.Placement,
		presenter: d.Presenter,
		launcher:  d.Launcher,
		saver:     d.Saver,
		policy:    d.Retry,
		timeout:   d.ReplyTimeout,
		clock:     d.Clock,
		log:       d.Logger.Named("negotiation"),
	}
}

func (m *Machine) Session() *Session { return m.sess }

// Handle decodes a TransferPacket packet and runs its step. Undecodable manifests
// are logged and dropped.
func (m *Machine) Handle(ctx context.Context, p protocol.Packet) error {
	var body protocol.TransferBody
	if err := p.DecodeBody(&body); err != nil {
		m.log.Warn("transfer packet dropped", zap.Error(err))
		return err
	}
	mf, err := manifest.Decode(body.Manifest)
	if err != nil {
		m.log.Warn("transfer manifest dropped", zap.Error(err))
		return err
	}
	for _, f := range mf.Faults() {
		m.log.Warn("manifest field unreadable", zap.Stringer("manifest", mf.ID), zap.String("field", f.Field), zap.Error(f.Err))
	}
	return m.HandleManifest(ctx, mf)
}

// HandleManifest runs one received step.
func (m *Machine) HandleManifest(ctx context.Context, mf *manifest.Manifest) error {
	m.log.Info("transfer step received",
		zap.Stringer("manifest", mf.ID),
		zap.Stringer("step", mf.Step),
		zap.String("mode", string(mf.Mode)),
		zap.Stringer("state", m.sess.State()))
	switch mf.Step {
	case manifest.StepRequest:
		return m.receiveRequest(mf)
	case manifest.StepAccept:
		return m.receiveAccept(mf)
	case manifest.StepReject:
		return m.receiveReject(ctx, mf)
	case manifest.StepReRequest:
		return m.receiveReRequest(mf)
	case manifest.StepReAccept:
		return m.receiveReAccept(ctx, mf)
	case manifest.StepReReject:
		return m.receiveReReject(ctx, mf)
	case manifest.StepRecover:
		return m.receiveRecover(ctx, mf)
	}
	return m.unexpected(mf)
}

// Send starts a negotiation with an assembled manifest whose goods have
// already been taken from their source. A failed send recovers the goods.
func (m *Machine) Send(ctx context.Context, mf *manifest.Manifest) error {
	if mf.Mode == manifest.ModeRebound {
		return fmt.Errorf("%w: rebound manifests are sent by Accept", manifest.ErrInvalid)
	}
	mf = mf.WithStep(manifest.StepRequest)
	if err := m.sess.begin(mf); err != nil {
		return err
	}
	m.sess.touch(m.clock())
	m.presenter.Waiting(true)
	if err := m.send(mf); err != nil {
		m.recoverAndFinish(ctx, mf, StateRejected, NoticeError, "transfer could not be sent")
		return err
	}
	return nil
}

// Accept takes the pending request. Gifts and drop pods are materialized at
// the destination right away; a trade answers with a rebound manifest
// carrying counter, which the caller has already taken from the settlement.
func (m *Machine) Accept(ctx context.Context, counter []entity.Entity) error {
	_, in, ok := m.sess.pending(StateDeciding)
	if !ok {
		return ErrNoPending
	}
	switch in.Mode {
	case manifest.ModeGift, manifest.ModeDropPod:
		if err := m.materialize(ctx, in, "incoming", in.To); err != nil {
			m.finish(StateAccepted, NoticeError, "received goods could not be placed")
			return err
		}
		if err := m.send(in.WithStep(manifest.StepAccept)); err != nil {
			m.log.Error("accept not delivered", zap.Stringer("manifest", in.ID), zap.Error(err))
		}
		m.finish(StateAccepted, NoticeSuccess, "transfer was a success")
		return nil
	case manifest.ModeTrade:
		out, err := m.asm.Assemble(in.To, in.From, manifest.ModeRebound, counter, nil)
		if errors.Is(err, manifest.ErrEmpty) {
			out, err = manifest.New(in.To, in.From, manifest.ModeRebound), nil
		}
		if err != nil {
			return err
		}
		out.ID = in.ID
		out.Step = manifest.StepReRequest
		out.Foreign = in.Own()
		m.sess.set(StateReboundSent, out, in)
		m.sess.touch(m.clock())
		m.presenter.Waiting(true)
		if err := m.send(out); err != nil {
			m.recoverAndFinish(ctx, out, StateRejected, NoticeError, "counter offer could not be sent")
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: mode %s", ErrUnexpectedStep, in.Mode)
}

// Reject declines the pending request. Only trades are answered; gifts and
// drop pods are dropped silently.
func (m *Machine) Reject(ctx context.Context) error {
	_, in, ok := m.sess.pending(StateDeciding)
	if !ok {
		return ErrNoPending
	}
	if in.Mode == manifest.ModeTrade {
		if err := m.send(in.WithStep(manifest.StepReject)); err != nil {
			m.log.Error("reject not delivered", zap.Stringer("manifest", in.ID), zap.Error(err))
		}
	}
	m.finish(StateRejected, NoticeCancelled, "transfer was cancelled")
	return nil
}

// AcceptRebound takes the counter offer into the caravan the original goods
// left from.
func (m *Machine) AcceptRebound(ctx context.Context) error {
	out, in, ok := m.sess.pending(StateReboundDeciding)
	if !ok {
		return ErrNoPending
	}
	if err := m.materialize(ctx, in, "incoming", out.From); err != nil {
		m.finish(StateReAccepted, NoticeError, "received goods could not be placed")
		return err
	}
	if err := m.send(in.WithStep(manifest.StepReAccept)); err != nil {
		m.log.Error("rebound accept not delivered", zap.Stringer("manifest", in.ID), zap.Error(err))
	}
	m.finish(StateReAccepted, NoticeSuccess, "transfer was a success")
	return nil
}

// RejectRebound declines the counter offer and takes the original goods
// back.
func (m *Machine) RejectRebound(ctx context.Context) error {
	out, in, ok := m.sess.pending(StateReboundDeciding)
	if !ok {
		return ErrNoPending
	}
	if err := m.send(in.WithStep(manifest.StepReReject)); err != nil {
		m.log.Error("rebound reject not delivered", zap.Stringer("manifest", in.ID), zap.Error(err))
	}
	m.recoverAndFinish(ctx, out, StateReRejected, NoticeCancelled, "transfer was cancelled")
	return nil
}

// Tick expires a negotiation that has waited too long. A sent step with no
// answer ends the lifecycle: a gift counts as delivered, since its goods
// already left, while trades, drop pods and counter offers take their goods
// back. A decision left pending for half the timeout is declined.
func (m *Machine) Tick(ctx context.Context, now time.Time) error {
	if m.timeout <= 0 {
		return nil
	}
	st, since := m.sess.Since()
	if since.IsZero() {
		return nil
	}
	age := now.Sub(since)
	switch st {
	case StateRequestSent:
		if age < m.timeout {
			return nil
		}
		out := m.sess.Outgoing()
		m.log.Info("transfer request got no answer", zap.Stringer("manifest", out.ID), zap.Duration("waited", age))
		if out.Mode == manifest.ModeGift {
			m.finish(StateAccepted, NoticeCancelled, "transfer got no answer")
			return nil
		}
		m.recoverAndFinish(ctx, out, StateRejected, NoticeCancelled, "transfer got no answer")
	case StateReboundSent:
		if age < m.timeout {
			return nil
		}
		out := m.sess.Outgoing()
		m.log.Info("counter offer got no answer", zap.Stringer("manifest", out.ID), zap.Duration("waited", age))
		m.recoverAndFinish(ctx, out, StateReRejected, NoticeCancelled, "counter offer got no answer")
	case StateDeciding:
		if age < m.timeout/2 {
			return nil
		}
		m.log.Info("pending transfer declined after waiting", zap.Duration("waited", age))
		return m.Reject(ctx)
	case StateReboundDeciding:
		if age < m.timeout/2 {
			return nil
		}
		m.log.Info("pending counter offer declined after waiting", zap.Duration("waited", age))
		return m.RejectRebound(ctx)
	}
	return nil
}

// Disconnect abandons any negotiation without notices or recovery.
func (m *Machine) Disconnect() {
	if m.sess.InTransfer() {
		m.log.Info("negotiation abandoned on disconnect", zap.Stringer("state", m.sess.State()))
		m.presenter.Waiting(false)
	}
	m.sess.clear(StateIdle)
}

func (m *Machine) receiveRequest(mf *manifest.Manifest) error {
	if mf.Mode == manifest.ModeRebound {
		return m.unexpected(mf)
	}
	if !m.sess.admit(mf) {
		m.log.Info("transfer request auto-rejected",
			zap.Stringer("manifest", mf.ID),
			zap.Bool("ready", m.sess.Ready()),
			zap.Bool("in_transfer", m.sess.InTransfer()),
			zap.Bool("auto_deny", m.sess.AutoDeny()))
		if mf.Mode == manifest.ModeTrade {
			return m.send(mf.WithStep(manifest.StepReject))
		}
		return nil
	}
	m.sess.touch(m.clock())
	own, foreign := m.asm.Unpack(mf)
	m.presenter.Offer(mf, own, foreign)
	return nil
}

func (m *Machine) receiveAccept(mf *manifest.Manifest) error {
	out, _, ok := m.sess.expect(mf.ID, StateRequestSent)
	if !ok {
		return m.unexpected(mf)
	}
	if out.Mode == manifest.ModeDropPod && m.launcher != nil {
		if err := m.launcher.Launch(out); err != nil {
			m.log.Error("drop pod launch failed", zap.Stringer("manifest", out.ID), zap.Error(err))
			m.finish(StateAccepted, NoticeError, "drop pods could not launch")
			return err
		}
	}
	m.finish(StateAccepted, NoticeSuccess, "transfer was a success")
	return nil
}

func (m *Machine) receiveReject(ctx context.Context, mf *manifest.Manifest) error {
	out, _, ok := m.sess.expect(mf.ID, StateRequestSent)
	if !ok {
		return m.unexpected(mf)
	}
	m.recoverAndFinish(ctx, out, StateRejected, NoticeCancelled, "player rejected the transfer")
	return nil
}

func (m *Machine) receiveReRequest(mf *manifest.Manifest) error {
	out, _, ok := m.sess.expect(mf.ID, StateRequestSent)
	if !ok || out.Mode != manifest.ModeTrade || mf.Mode != manifest.ModeRebound {
		return m.unexpected(mf)
	}
	m.sess.set(StateReboundDeciding, out, mf)
	m.sess.touch(m.clock())
	m.presenter.Waiting(false)
	own, foreign := m.asm.Unpack(mf)
	m.presenter.Offer(mf, own, foreign)
	return nil
}

func (m *Machine) receiveReAccept(ctx context.Context, mf *manifest.Manifest) error {
	_, in, ok := m.sess.expect(mf.ID, StateReboundSent)
	if !ok || in == nil {
		return m.unexpected(mf)
	}
	if err := m.materialize(ctx, in, "incoming", in.To); err != nil {
		m.finish(StateReAccepted, NoticeError, "received goods could not be placed")
		return err
	}
	m.finish(StateReAccepted, NoticeSuccess, "transfer was a success")
	return nil
}

func (m *Machine) receiveReReject(ctx context.Context, mf *manifest.Manifest) error {
	out, _, ok := m.sess.expect(mf.ID, StateReboundSent)
	if !ok {
		return m.unexpected(mf)
	}
	m.recoverAndFinish(ctx, out, StateReRejected, NoticeCancelled, "player rejected the transfer")
	return nil
}

// receiveRecover handles a manifest bounced back by the relay because the
// counterpart could not be reached.
func (m *Machine) receiveRecover(ctx context.Context, mf *manifest.Manifest) error {
	out, _, ok := m.sess.expect(mf.ID, StateRequestSent, StateReboundSent)
	if !ok {
		return m.unexpected(mf)
	}
	m.recoverAndFinish(ctx, out, StateRejected, NoticeError, "transfer could not be delivered")
	return nil
}

func (m *Machine) unexpected(mf *manifest.Manifest) error {
	m.log.Warn("unexpected transfer step dropped",
		zap.Stringer("manifest", mf.ID),
		zap.Stringer("step", mf.Step),
		zap.Stringer("state", m.sess.State()))
	return fmt.Errorf("%w: %s in state %s", ErrUnexpectedStep, mf.Step, m.sess.State())
}

func (m *Machine) send(mf *manifest.Manifest) error {
	if m.transport == nil {
		return errors.New("no transport")
	}
	body, err := manifest.Encode(mf)
	if err != nil {
		return err
	}
	p, err := protocol.NewPacket(protocol.TypeTransfer, protocol.TransferBody{Manifest: body})
	if err != nil {
		return err
	}
	if err := m.transport.Enqueue(p); err != nil {
		return err
	}
	m.log.Info("transfer step sent", zap.Stringer("manifest", mf.ID), zap.Stringer("step", mf.Step))
	return nil
}

func (m *Machine) recoverAndFinish(ctx context.Context, out *manifest.Manifest, terminal State, n Notice, text string) {
	if err := m.recover(ctx, out); err != nil {
		m.log.Error("recovery abandoned", zap.Stringer("manifest", out.ID), zap.Error(err))
		m.finish(terminal, NoticeError, "staged goods could not be recovered")
		return
	}
	m.finish(terminal, n, text)
}

// finish runs terminal cleanup and emits the lifecycle's single notice.
func (m *Machine) finish(terminal State, n Notice, text string) {
	m.sess.clear(terminal)
	m.presenter.Waiting(false)
	m.presenter.Notice(n, text)
	m.log.Info("negotiation finished", zap.Stringer("terminal", terminal), zap.Stringer("notice", n))
	if n == NoticeSuccess && m.saver != nil {
		if err := m.saver.Save(); err != nil {
			m.log.Warn("save after transfer failed", zap.Error(err))
		}
	}
}

type nopPresenter struct{}

func (nopPresenter) Offer(*manifest.Manifest, []entity.Entity, []entity.Entity) {}
func (nopPresenter) Waiting(bool)                                               {}
func (nopPresenter) Notice(Notice, string)                                      {}
