package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"caravan.ai/internal/codec/scribe"
	"caravan.ai/internal/protocol"
	"caravan.ai/internal/sim/catalogs"
	"caravan.ai/internal/sim/entity"
	"caravan.ai/internal/sim/world"
	"caravan.ai/internal/transfer/manifest"
	"caravan.ai/internal/transfer/negotiation"
)

type outbox struct {
	packets []protocol.Packet
	err     error
}

func (o *outbox) Enqueue(p protocol.Packet) error {
	if o.err != nil {
		return o.err
	}
	o.packets = append(o.packets, p)
	return nil
}

type notices struct{ got []string }

func (n *notices) Offer(*manifest.Manifest, []entity.Entity, []entity.Entity) {}
func (n *notices) Waiting(bool)                                               {}
func (n *notices) Notice(_ negotiation.Notice, text string)                   { n.got = append(n.got, text) }

type fixture struct {
	d     *Dispatcher
	world *world.World
	out   *outbox
	notes *notices
	quits []string
	logs  *observer.ObservedLogs
	sess  *negotiation.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	codec := scribe.New(catalogs.Default(), logger)
	w := world.New(codec, logger)
	w.SetCaravan("caravan")
	_, err := w.AddSettlement("home", entity.Vec3i{X: 8, Y: 1, Z: 8}, nil)
	require.NoError(t, err)

	f := &fixture{world: w, out: &outbox{}, notes: &notices{}, logs: logs}
	m := negotiation.New(negotiation.Deps{
		Assembler: manifest.NewAssembler(codec, logger),
		Transport: f.out,
		Placement: w,
		Presenter: f.notes,
		Logger:    logger,
	})
	f.sess = m.Session()
	f.d = New(Deps{
		Machine:   m,
		World:     w,
		Transport: f.out,
		Presenter: f.notes,
		OnQuit:    func(r string) { f.quits = append(f.quits, r) },
		Logger:    logger,
	})
	return f
}

func (f *fixture) login(t *testing.T, prices [protocol.EventKindCount]int) {
	t.Helper()
	p := protocol.MustPacket(protocol.TypeLoginResponse, protocol.LoginResponseBody{
		Result: protocol.LoginSuccess, SessionID: "s-1", Prices: prices,
	})
	require.NoError(t, f.d.Dispatch(context.Background(), p))
}

func TestLoginResponseSetsReadyAndPrices(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.sess.Ready())

	var prices [protocol.EventKindCount]int
	prices[protocol.EventRaid] = 300
	f.login(t, prices)

	assert.True(t, f.sess.Ready())
	assert.True(t, f.d.LoggedIn())
	assert.Equal(t, "s-1", f.d.SessionID())
	assert.Equal(t, 300, f.d.Prices().Cost(protocol.EventRaid))
	assert.Zero(t, f.d.Prices().Cost(protocol.EventKind(42)))
}

func TestInvalidPricesAreAllZero(t *testing.T) {
	f := newFixture(t)
	var prices [protocol.EventKindCount]int
	prices[0], prices[3] = 100, -5
	f.login(t, prices)
	assert.Equal(t, PriceTable{}, f.d.Prices())
	assert.True(t, f.d.LoggedIn())
}

func TestRefusedLoginEndsSession(t *testing.T) {
	f := newFixture(t)
	p := protocol.MustPacket(protocol.TypeLoginResponse, protocol.LoginResponseBody{Result: protocol.LoginBanned})
	require.NoError(t, f.d.Dispatch(context.Background(), p))
	assert.False(t, f.d.LoggedIn())
	assert.Len(t, f.quits, 1)
}

func TestCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, [protocol.EventKindCount]int{})

	cmd := func(kind protocol.CommandKind, text string) {
		require.NoError(t, f.d.Dispatch(ctx, protocol.MustPacket(protocol.TypeCommand, protocol.CommandBody{Kind: kind, Text: text})))
	}

	cmd(protocol.CommandOp, "")
	assert.True(t, f.d.Admin())
	cmd(protocol.CommandDeop, "")
	assert.False(t, f.d.Admin())

	cmd(protocol.CommandBroadcast, "server restarts soon")
	assert.Contains(t, f.notes.got, "server restarts soon")

	cmd(protocol.CommandKind(99), "")
	assert.Equal(t, 1, f.logs.FilterMessage("unknown command ignored").Len())
	assert.Empty(t, f.quits)

	cmd(protocol.CommandDisconnect, "")
	assert.Len(t, f.quits, 1)
	assert.False(t, f.sess.Ready())
	assert.False(t, f.d.LoggedIn())
}

func TestForceSaveSavesThenLeaves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, [protocol.EventKindCount]int{})

	require.NoError(t, f.d.Dispatch(ctx, protocol.MustPacket(protocol.TypeCommand, protocol.CommandBody{Kind: protocol.CommandForceSave})))
	assert.Equal(t, 1, f.world.Saves())
	assert.Len(t, f.quits, 1)
	assert.False(t, f.sess.Ready())
	assert.False(t, f.d.LoggedIn())

	// not ready: nothing to save
	require.NoError(t, f.d.Dispatch(ctx, protocol.MustPacket(protocol.TypeCommand, protocol.CommandBody{Kind: protocol.CommandForceSave})))
	assert.Equal(t, 1, f.world.Saves())
	assert.Len(t, f.quits, 2)
}

func TestEventsWaitForReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := protocol.MustPacket(protocol.TypeEvent, protocol.EventBody{Step: protocol.EventReceive, Kind: protocol.EventRaid, From: "x", To: "home"})

	require.NoError(t, f.d.Dispatch(ctx, p))
	assert.Empty(t, f.world.Events())
	assert.Equal(t, 1, f.logs.FilterMessage("event ignored before ready").Len())

	f.login(t, [protocol.EventKindCount]int{})
	require.NoError(t, f.d.Dispatch(ctx, p))
	assert.Len(t, f.world.Events(), 1)
}

func TestEventSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var prices [protocol.EventKindCount]int
	prices[protocol.EventManhunter] = 120
	f.login(t, prices)

	ev := func(step protocol.EventStep, kind protocol.EventKind) error {
		return f.d.Dispatch(ctx, protocol.MustPacket(protocol.TypeEvent, protocol.EventBody{Step: step, Kind: kind, From: "x", To: "home"}))
	}

	require.NoError(t, ev(protocol.EventReceive, protocol.EventManhunter))
	require.Len(t, f.world.Events(), 1)
	assert.Equal(t, "manhunter", f.world.Events()[0].Kind)

	require.NoError(t, ev(protocol.EventRecover, protocol.EventManhunter))
	assert.Equal(t, 120, f.world.Silver())

	require.NoError(t, ev(protocol.EventSend, protocol.EventRaid))
	require.NoError(t, ev(protocol.EventReceive, protocol.EventKind(77)))
	assert.Len(t, f.world.Events(), 1)
	assert.Equal(t, 1, f.logs.FilterMessage("unknown event ignored").Len())
}

func TestSendEventChargesSilver(t *testing.T) {
	f := newFixture(t)
	var prices [protocol.EventKindCount]int
	prices[protocol.EventRaid] = 200
	prices[protocol.EventWanderer] = 10

	assert.ErrorIs(t, f.d.SendEvent(protocol.EventRaid, "their-home"), ErrNotLoggedIn)
	f.login(t, prices)

	require.NoError(t, f.world.SendSilverToCaravan(150))
	err := f.d.SendEvent(protocol.EventRaid, "their-home")
	assert.ErrorIs(t, err, world.ErrInsufficientSilver)
	assert.Equal(t, 150, f.world.Silver())
	assert.Empty(t, f.out.packets)

	require.NoError(t, f.d.SendEvent(protocol.EventWanderer, "their-home"))
	assert.Equal(t, 140, f.world.Silver())
	require.Len(t, f.out.packets, 1)
	var body protocol.EventBody
	require.NoError(t, f.out.packets[0].DecodeBody(&body))
	assert.Equal(t, protocol.EventSend, body.Step)
	assert.Equal(t, "caravan", body.From)
	assert.Equal(t, "their-home", body.To)

	f.out.err = errors.New("closed")
	assert.Error(t, f.d.SendEvent(protocol.EventWanderer, "their-home"))
	assert.Equal(t, 140, f.world.Silver(), "failed send is refunded")
}

func TestRecountAndUnknownPackets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.d.Dispatch(ctx, protocol.MustPacket(protocol.TypeRecount, protocol.RecountBody{Players: []string{"ada", "bo"}})))
	assert.Equal(t, []string{"ada", "bo"}, f.d.Roster())

	require.NoError(t, f.d.Dispatch(ctx, protocol.Packet{Type: "WEATHER", ProtocolVersion: protocol.Version}))
	assert.Equal(t, 1, f.logs.FilterMessage("unknown packet ignored").Len())

	assert.Error(t, f.d.Dispatch(ctx, protocol.Packet{Type: protocol.TypeCommand, ProtocolVersion: "0.1"}))
}

func TestPricesFromNames(t *testing.T) {
	table, err := PricesFromNames(map[string]int{"raid": 500, "trader_caravan": 50})
	require.NoError(t, err)
	assert.Equal(t, 500, table.Cost(protocol.EventRaid))
	assert.Equal(t, 50, table.Cost(protocol.EventTraderCaravan))

	_, err = PricesFromNames(map[string]int{"meteor": 1})
	assert.Error(t, err)
	_, err = PricesFromNames(map[string]int{"raid": -1})
	assert.Error(t, err)
}
