package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"caravan.ai/internal/codec/scribe"
	"caravan.ai/internal/protocol"
	"caravan.ai/internal/retry"
	"caravan.ai/internal/sim/catalogs"
	"caravan.ai/internal/sim/entity"
	"caravan.ai/internal/transfer/manifest"
)

type queue struct {
	mu      sync.Mutex
	packets []protocol.Packet
	err     error
}

func (q *queue) Enqueue(p protocol.Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.packets = append(q.packets, p)
	return nil
}

func (q *queue) drain() []protocol.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.packets
	q.packets = nil
	return out
}

type placed struct {
	location string
	entity   entity.Entity
}

type board struct {
	mu    sync.Mutex
	calls int
	// failAt lists 1-based call numbers that fail.
	failAt map[int]bool
	// always fails every call when set.
	always error
	placed []placed
}

func (b *board) put(location string, e entity.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.always != nil {
		return b.always
	}
	if b.failAt[b.calls] {
		return errors.New("cell blocked")
	}
	b.placed = append(b.placed, placed{location, e})
	return nil
}

func (b *board) SpawnAt(location string, e entity.Entity) error   { return b.put(location, e) }
func (b *board) PlaceNear(location string, it *entity.Item) error { return b.put(location, it) }

type screen struct {
	offers  []*manifest.Manifest
	waiting []bool
	notices []Notice
}

func (s *screen) Offer(m *manifest.Manifest, _, _ []entity.Entity) { s.offers = append(s.offers, m) }
func (s *screen) Waiting(on bool)                                  { s.waiting = append(s.waiting, on) }
func (s *screen) Notice(n Notice, _ string)                        { s.notices = append(s.notices, n) }

type pods struct{ launched int }

func (p *pods) Launch(*manifest.Manifest) error { p.launched++; return nil }

type saves struct{ n int }

func (s *saves) Save() error { s.n++; return nil }

type peer struct {
	m      *Machine
	out    *queue
	board  *board
	screen *screen
	pods   *pods
	saves  *saves
	logs   *observer.ObservedLogs
}

func newPeer(t *testing.T, opts ...func(*Deps)) *peer {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	p := &peer{
		out:    &queue{},
		board:  &board{failAt: map[int]bool{}},
		screen: &screen{},
		pods:   &pods{},
		saves:  &saves{},
		logs:   logs,
	}
	codec := scribe.New(catalogs.Default(), logger)
	d := Deps{
		Assembler: manifest.NewAssembler(codec, logger),
		Transport: p.out,
		Placement: p.board,
		Presenter: p.screen,
		Launcher:  p.pods,
		Saver:     p.saves,
		Retry:     retry.Policy{Delay: time.Millisecond},
		Logger:    logger,
	}
	for _, o := range opts {
		o(&d)
	}
	p.m = New(d)
	p.m.Session().SetReady(true)
	return p
}

// deliver hands every packet queued by from to to, returning the steps seen.
func deliver(t *testing.T, from, to *peer) []manifest.Step {
	t.Helper()
	var steps []manifest.Step
	for _, p := range from.out.drain() {
		require.Equal(t, protocol.TypeTransfer, p.Type)
		var body protocol.TransferBody
		require.NoError(t, p.DecodeBody(&body))
		mf, err := manifest.Decode(body.Manifest)
		require.NoError(t, err)
		steps = append(steps, mf.Step)
		_ = to.m.HandleManifest(context.Background(), mf)
	}
	return steps
}

func goods(t *testing.T) []entity.Entity {
	t.Helper()
	cat := catalogs.Default()
	steel, err := cat.NewItem("Steel", "")
	require.NoError(t, err)
	steel.Count = 5
	vest, err := cat.NewItem("Apparel_FlakVest", "")
	require.NoError(t, err)
	vest.Quality = entity.QualityNormal
	husky, err := cat.NewCreature("Husky")
	require.NoError(t, err)
	husky.Name = "Rex"
	return []entity.Entity{steel, vest, husky}
}

func offer(t *testing.T, p *peer, mode manifest.Mode) *manifest.Manifest {
	t.Helper()
	mf, err := p.m.asm.Assemble("caravan-a", "settlement-b", mode, goods(t), nil)
	require.NoError(t, err)
	return mf
}

func assertIdle(t *testing.T, p *peer) {
	t.Helper()
	s := p.m.Session()
	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.InTransfer())
	assert.Nil(t, s.Outgoing())
	assert.Nil(t, s.Incoming())
}

func TestGiftAcceptedMaterializesAtDestination(t *testing.T) {
	a, b := newPeer(t), newPeer(t)
	ctx := context.Background()

	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeGift)))
	assert.Equal(t, StateRequestSent, a.m.Session().State())
	assert.Equal(t, []manifest.Step{manifest.StepRequest}, deliver(t, a, b))
	require.Len(t, b.screen.offers, 1)
	assert.Equal(t, StateDeciding, b.m.Session().State())

	require.NoError(t, b.m.Accept(ctx, nil))
	require.Len(t, b.board.placed, 3)
	for _, pl := range b.board.placed {
		assert.Equal(t, "settlement-b", pl.location)
	}
	assert.Equal(t, []manifest.Step{manifest.StepAccept}, deliver(t, b, a))

	assertIdle(t, a)
	assertIdle(t, b)
	assert.Equal(t, []Notice{NoticeSuccess}, a.screen.notices)
	assert.Equal(t, []Notice{NoticeSuccess}, b.screen.notices)
	assert.Equal(t, StateAccepted, a.m.Session().LastTerminal())
	assert.Equal(t, 1, a.saves.n)
	assert.Equal(t, 1, b.saves.n)
	assert.Empty(t, a.board.placed)
}

func TestTradeWithReboundAccepted(t *testing.T) {
	a, b := newPeer(t), newPeer(t)
	ctx := context.Background()

	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeTrade)))
	deliver(t, a, b)

	silver, err := catalogs.Default().NewItem("Silver", "")
	require.NoError(t, err)
	silver.Count = 300
	require.NoError(t, b.m.Accept(ctx, []entity.Entity{silver}))
	assert.Equal(t, StateReboundSent, b.m.Session().State())
	assert.Empty(t, b.board.placed, "goods are held until the rebound is accepted")

	assert.Equal(t, []manifest.Step{manifest.StepReRequest}, deliver(t, b, a))
	assert.Equal(t, StateReboundDeciding, a.m.Session().State())
	require.Len(t, a.screen.offers, 1)
	rebound := a.screen.offers[0]
	assert.Equal(t, manifest.ModeRebound, rebound.Mode)
	assert.Len(t, rebound.Items, 1)
	assert.Len(t, rebound.Foreign, 3)

	require.NoError(t, a.m.AcceptRebound(ctx))
	require.Len(t, a.board.placed, 1)
	assert.Equal(t, "caravan-a", a.board.placed[0].location)
	assert.Equal(t, 300, a.board.placed[0].entity.(*entity.Item).Count)

	assert.Equal(t, []manifest.Step{manifest.StepReAccept}, deliver(t, a, b))
	require.Len(t, b.board.placed, 3)
	for _, pl := range b.board.placed {
		assert.Equal(t, "settlement-b", pl.location)
	}

	assertIdle(t, a)
	assertIdle(t, b)
	assert.Equal(t, StateReAccepted, a.m.Session().LastTerminal())
	assert.Equal(t, StateReAccepted, b.m.Session().LastTerminal())
	assert.Equal(t, []Notice{NoticeSuccess}, a.screen.notices)
	assert.Equal(t, []Notice{NoticeSuccess}, b.screen.notices)
}

func TestReboundRejectedRecoversBothSides(t *testing.T) {
	a, b := newPeer(t), newPeer(t)
	ctx := context.Background()

	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeTrade)))
	deliver(t, a, b)
	silver, err := catalogs.Default().NewItem("Silver", "")
	require.NoError(t, err)
	silver.Count = 10
	require.NoError(t, b.m.Accept(ctx, []entity.Entity{silver}))
	deliver(t, b, a)

	require.NoError(t, a.m.RejectRebound(ctx))
	require.Len(t, a.board.placed, 3)
	for _, pl := range a.board.placed {
		assert.Equal(t, "caravan-a", pl.location)
	}
	assert.Equal(t, []manifest.Step{manifest.StepReReject}, deliver(t, a, b))
	require.Len(t, b.board.placed, 1)
	assert.Equal(t, "settlement-b", b.board.placed[0].location)

	assertIdle(t, a)
	assertIdle(t, b)
	assert.Equal(t, StateReRejected, a.m.Session().LastTerminal())
	assert.Equal(t, []Notice{NoticeCancelled}, a.screen.notices)
	assert.Equal(t, []Notice{NoticeCancelled}, b.screen.notices)
	assert.Zero(t, a.saves.n)
}

func TestBusyPeerAutoRejectsWithoutTouchingSession(t *testing.T) {
	a, b, c := newPeer(t), newPeer(t), newPeer(t)
	ctx := context.Background()

	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeGift)))
	deliver(t, a, b)
	held := b.m.Session().Incoming()

	require.NoError(t, c.m.Send(ctx, offer(t, c, manifest.ModeTrade)))
	deliver(t, c, b)
	assert.Same(t, held, b.m.Session().Incoming())
	assert.Equal(t, StateDeciding, b.m.Session().State())
	assert.Len(t, b.screen.offers, 1)

	assert.Equal(t, []manifest.Step{manifest.StepReject}, deliver(t, b, c))
	assertIdle(t, c)
	assert.Len(t, c.board.placed, 3, "rejected trade goods come back")

	// a busy peer drops a second gift silently
	d := newPeer(t)
	require.NoError(t, d.m.Send(ctx, offer(t, d, manifest.ModeGift)))
	deliver(t, d, b)
	assert.Empty(t, b.out.drain())
}

func TestNotReadyOrAutoDenyRejects(t *testing.T) {
	a, b := newPeer(t), newPeer(t)
	ctx := context.Background()

	b.m.Session().SetAutoDeny(true)
	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeTrade)))
	deliver(t, a, b)
	assertIdle(t, b)
	assert.Empty(t, b.screen.offers)
	assert.Equal(t, []manifest.Step{manifest.StepReject}, deliver(t, b, a))

	a.m.Session().SetReady(false)
	assert.ErrorIs(t, a.m.Send(ctx, offer(t, a, manifest.ModeGift)), ErrNotReady)
}

func TestSendWhileBusy(t *testing.T) {
	a := newPeer(t)
	ctx := context.Background()
	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeGift)))
	assert.ErrorIs(t, a.m.Send(ctx, offer(t, a, manifest.ModeGift)), ErrBusy)
}

func TestRejectModes(t *testing.T) {
	for _, tc := range []struct {
		mode  manifest.Mode
		reply bool
	}{
		{manifest.ModeGift, false},
		{manifest.ModeDropPod, false},
		{manifest.ModeTrade, true},
	} {
		t.Run(string(tc.mode), func(t *testing.T) {
			a, b := newPeer(t), newPeer(t)
			ctx := context.Background()
			require.NoError(t, a.m.Send(ctx, offer(t, a, tc.mode)))
			deliver(t, a, b)

			require.NoError(t, b.m.Reject(ctx))
			assertIdle(t, b)
			assert.Equal(t, StateRejected, b.m.Session().LastTerminal())
			assert.Equal(t, []Notice{NoticeCancelled}, b.screen.notices)
			steps := deliver(t, b, a)
			if tc.reply {
				assert.Equal(t, []manifest.Step{manifest.StepReject}, steps)
			} else {
				assert.Empty(t, steps)
			}
		})
	}
}

func TestDropPodAcceptLaunches(t *testing.T) {
	a, b := newPeer(t), newPeer(t)
	ctx := context.Background()

	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeDropPod)))
	deliver(t, a, b)
	require.NoError(t, b.m.Accept(ctx, nil))
	deliver(t, b, a)

	assert.Equal(t, 1, a.pods.launched)
	assertIdle(t, a)
	assert.Equal(t, []Notice{NoticeSuccess}, a.screen.notices)
}

func TestRecoveryRetriesWithoutDuplicates(t *testing.T) {
	a, b := newPeer(t), newPeer(t)
	ctx := context.Background()
	// the second placement call fails once
	a.board.failAt[2] = true

	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeTrade)))
	deliver(t, a, b)
	require.NoError(t, b.m.Reject(ctx))
	deliver(t, b, a)

	require.Len(t, a.board.placed, 3)
	var steel, vests, creatures int
	for _, pl := range a.board.placed {
		assert.Equal(t, "caravan-a", pl.location)
		switch e := pl.entity.(type) {
		case *entity.Item:
			if e.Def == "Steel" {
				steel++
				assert.Equal(t, 5, e.Count)
			} else {
				vests++
				assert.Equal(t, entity.QualityNormal, e.Quality)
			}
		case *entity.Creature:
			creatures++
		}
	}
	assert.Equal(t, 1, steel)
	assert.Equal(t, 1, vests)
	assert.Equal(t, 1, creatures)
	assert.Equal(t, 4, a.board.calls)
	assert.Equal(t, 1, a.logs.FilterMessage("placement failed, retrying").Len())
	assertIdle(t, a)
	assert.Equal(t, []Notice{NoticeCancelled}, a.screen.notices)
}

func TestRecoverStepReturnsGoods(t *testing.T) {
	a := newPeer(t)
	ctx := context.Background()
	mf := offer(t, a, manifest.ModeGift)
	require.NoError(t, a.m.Send(ctx, mf))
	a.out.drain()

	require.NoError(t, a.m.HandleManifest(ctx, mf.WithStep(manifest.StepRecover)))
	assert.Len(t, a.board.placed, 3)
	assertIdle(t, a)
	assert.Equal(t, StateRejected, a.m.Session().LastTerminal())
	assert.Equal(t, []Notice{NoticeError}, a.screen.notices)

	// a second recover for the same manifest is dropped
	err := a.m.HandleManifest(ctx, mf.WithStep(manifest.StepRecover))
	assert.ErrorIs(t, err, ErrUnexpectedStep)
	assert.Len(t, a.board.placed, 3)
}

func TestSendFailureRecovers(t *testing.T) {
	a := newPeer(t)
	a.out.err = errors.New("socket closed")
	err := a.m.Send(context.Background(), offer(t, a, manifest.ModeTrade))
	require.Error(t, err)
	assert.Len(t, a.board.placed, 3)
	assertIdle(t, a)
	assert.Equal(t, []Notice{NoticeError}, a.screen.notices)
}

func TestUnexpectedStepsAreDropped(t *testing.T) {
	a := newPeer(t)
	ctx := context.Background()
	mf := offer(t, a, manifest.ModeTrade)

	for _, st := range []manifest.Step{manifest.StepAccept, manifest.StepReject, manifest.StepReAccept, manifest.StepReReject} {
		err := a.m.HandleManifest(ctx, mf.WithStep(st))
		assert.ErrorIs(t, err, ErrUnexpectedStep, st.String())
	}
	assertIdle(t, a)
	assert.Empty(t, a.screen.notices)

	// a reply for another manifest does not end the current one
	require.NoError(t, a.m.Send(ctx, mf))
	other := offer(t, a, manifest.ModeTrade)
	assert.ErrorIs(t, a.m.HandleManifest(ctx, other.WithStep(manifest.StepAccept)), ErrUnexpectedStep)
	assert.Equal(t, StateRequestSent, a.m.Session().State())

	assert.ErrorIs(t, a.m.Accept(ctx, nil), ErrNoPending)
	assert.ErrorIs(t, a.m.AcceptRebound(ctx), ErrNoPending)
}

func TestHandleDropsBadPackets(t *testing.T) {
	a := newPeer(t)
	p := protocol.MustPacket(protocol.TypeTransfer, protocol.TransferBody{Manifest: "not-base64!"})
	assert.Error(t, a.m.Handle(context.Background(), p))
	assertIdle(t, a)
	assert.Equal(t, 1, a.logs.FilterMessage("transfer manifest dropped").Len())
}

func TestDisconnectClearsWithoutRecovery(t *testing.T) {
	a := newPeer(t)
	require.NoError(t, a.m.Send(context.Background(), offer(t, a, manifest.ModeTrade)))
	a.m.Disconnect()
	assertIdle(t, a)
	assert.Empty(t, a.board.placed)
	assert.Empty(t, a.screen.notices)
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func withTimeout(d *Deps) {
	d.ReplyTimeout = time.Minute
	d.Clock = func() time.Time { return epoch }
}

func TestUnansweredGiftFinishesAsDelivered(t *testing.T) {
	a, b := newPeer(t, withTimeout), newPeer(t)
	ctx := context.Background()
	b.m.Session().SetAutoDeny(true)

	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeGift)))
	deliver(t, a, b)
	assert.Empty(t, b.out.drain(), "declined gifts are not answered")

	require.NoError(t, a.m.Tick(ctx, epoch.Add(59*time.Second)))
	assert.Equal(t, StateRequestSent, a.m.Session().State())
	assert.Empty(t, a.screen.notices)

	require.NoError(t, a.m.Tick(ctx, epoch.Add(time.Minute)))
	assertIdle(t, a)
	assert.Equal(t, StateAccepted, a.m.Session().LastTerminal())
	assert.Equal(t, []Notice{NoticeCancelled}, a.screen.notices)
	assert.Empty(t, a.board.placed, "gift goods already left")

	require.NoError(t, a.m.Tick(ctx, epoch.Add(time.Hour)))
	assert.Len(t, a.screen.notices, 1)
	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeGift)))
}

func TestUnansweredTradeRecoversGoods(t *testing.T) {
	a := newPeer(t, withTimeout)
	ctx := context.Background()

	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeTrade)))
	a.out.drain()
	require.NoError(t, a.m.Tick(ctx, epoch.Add(2*time.Minute)))

	assertIdle(t, a)
	assert.Equal(t, StateRejected, a.m.Session().LastTerminal())
	assert.Equal(t, []Notice{NoticeCancelled}, a.screen.notices)
	require.Len(t, a.board.placed, 3)
	for _, pl := range a.board.placed {
		assert.Equal(t, "caravan-a", pl.location)
	}
}

func TestPendingDecisionDeclinedAfterHalfTimeout(t *testing.T) {
	a, b := newPeer(t, withTimeout), newPeer(t, withTimeout)
	ctx := context.Background()

	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeTrade)))
	deliver(t, a, b)
	require.NoError(t, b.m.Tick(ctx, epoch.Add(29*time.Second)))
	assert.Equal(t, StateDeciding, b.m.Session().State())

	require.NoError(t, b.m.Tick(ctx, epoch.Add(30*time.Second)))
	assertIdle(t, b)
	assert.Equal(t, []manifest.Step{manifest.StepReject}, deliver(t, b, a))
	assertIdle(t, a)
	assert.Len(t, a.board.placed, 3)
	assert.Equal(t, []Notice{NoticeCancelled}, a.screen.notices)
	assert.Equal(t, []Notice{NoticeCancelled}, b.screen.notices)
}

func TestUnansweredCounterOfferRecovers(t *testing.T) {
	a, b := newPeer(t), newPeer(t, withTimeout)
	ctx := context.Background()

	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeTrade)))
	deliver(t, a, b)
	silver, err := catalogs.Default().NewItem("Silver", "")
	require.NoError(t, err)
	silver.Count = 40
	require.NoError(t, b.m.Accept(ctx, []entity.Entity{silver}))
	b.out.drain()

	require.NoError(t, b.m.Tick(ctx, epoch.Add(time.Minute)))
	assertIdle(t, b)
	assert.Equal(t, StateReRejected, b.m.Session().LastTerminal())
	require.Len(t, b.board.placed, 1)
	assert.Equal(t, "settlement-b", b.board.placed[0].location)
	assert.Equal(t, 40, b.board.placed[0].entity.(*entity.Item).Count)
}

func TestTickWithoutTimeoutWaitsForever(t *testing.T) {
	a := newPeer(t)
	ctx := context.Background()
	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeGift)))
	require.NoError(t, a.m.Tick(ctx, time.Now().Add(24*time.Hour)))
	assert.Equal(t, StateRequestSent, a.m.Session().State())
}

func TestPermanentPlacementFaultEndsUnboundedRecovery(t *testing.T) {
	a, b := newPeer(t), newPeer(t)
	ctx := context.Background()
	require.Zero(t, a.m.policy.MaxAttempts)

	require.NoError(t, a.m.Send(ctx, offer(t, a, manifest.ModeTrade)))
	deliver(t, a, b)
	require.NoError(t, b.m.Reject(ctx))

	a.board.always = retry.NonRetryable(errors.New("caravan-a is gone"))
	deliver(t, b, a)
	assertIdle(t, a)
	assert.Equal(t, 1, a.board.calls)
	assert.Equal(t, []Notice{NoticeError}, a.screen.notices)
	assert.Equal(t, 1, a.logs.FilterMessage("recovery abandoned").Len())
}
