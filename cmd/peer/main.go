package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"caravan.ai/internal/codec/scribe"
	"caravan.ai/internal/config"
	"caravan.ai/internal/observability"
	"caravan.ai/internal/peer"
	"caravan.ai/internal/protocol"
	"caravan.ai/internal/sim/catalogs"
	"caravan.ai/internal/sim/world"
	"caravan.ai/internal/transfer/manifest"
	"caravan.ai/internal/transfer/negotiation"
	"caravan.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/peer.yaml", "peer config path (missing file: defaults)")
		relayURL   = flag.String("url", "", "relay websocket url (overrides config)")
		username   = flag.String("user", "", "username (overrides config)")
		password   = flag.String("pass", "", "password (overrides config)")
		policyName = flag.String("policy", "accept", "answer to incoming offers: accept|reject|counter")
		counter    = flag.String("counter", "", "counter offer for trades, e.g. Silver:50")

		mode  = flag.String("send", "", "start a transfer once logged in: gift|trade|droppod")
		to    = flag.String("to", "", "destination location for -send or -event")
		goods = flag.String("goods", "", "goods to send from the caravan, e.g. Steel:10,@Rex")
		event = flag.String("event", "", "send a paid world event once logged in: "+strings.Join(protocol.EventNames(), "|"))

		exportRegion = flag.String("export_region", "", "write this settlement's region to -region_file and exit")
		importRegion = flag.String("import_region", "", "load -region_file as this settlement before logging in")
		regionFile   = flag.String("region_file", "region.json.zst", "region file path")

		exitAfter = flag.Bool("exit_after", false, "exit once the started transfer or event settles")
	)
	flag.Parse()

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := config.LoadPeer(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	override(&cfg.RelayURL, *relayURL)
	override(&cfg.Username, *username)
	override(&cfg.Password, *password)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	policy, err := peer.ParsePolicy(*policyName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	counterPicks, err := peer.ParsePicks(*counter)
	if err != nil {
		fmt.Fprintln(os.Stderr, "counter:", err)
		os.Exit(2)
	}
	sendPicks, err := peer.ParsePicks(*goods)
	if err != nil {
		fmt.Fprintln(os.Stderr, "goods:", err)
		os.Exit(2)
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	cat, err := catalogs.Load(cfg.CatalogPath)
	if err != nil {
		logger.Fatal("load catalog", zap.Error(err))
	}
	codec := scribe.New(cat, logger)
	w := world.New(codec, logger, world.WithNotify(func(s string) { logger.Info("world notice", zap.String("text", s)) }))
	fx, err := world.LoadFixture(cfg.WorldPath, "caravan-"+cfg.Username)
	if err != nil {
		logger.Fatal("load world", zap.Error(err))
	}
	if err := w.Apply(fx); err != nil {
		logger.Fatal("apply world", zap.Error(err))
	}

	started := *mode != "" || *event != ""
	var (
		link    = &lazyTransport{}
		p       *peer.Peer
		pending bool
	)
	p = peer.New(peer.Options{
		Config:    cfg,
		World:     w,
		Assembler: manifest.NewAssembler(codec, logger),
		Transport: link,
		Policy:    policy,
		Counter:   counterPicks,
		OnReady: func(ctx context.Context) {
			if !started {
				return
			}
			if err := start(ctx, p, *mode, *event, *to, sendPicks); err != nil {
				logger.Error("could not start", zap.Error(err))
				cancel()
				return
			}
			pending = true
		},
		OnNotice: func(n negotiation.Notice, text string) {
			if *exitAfter && pending && !p.Session().InTransfer() {
				logger.Info("settled", zap.Stringer("notice", n), zap.String("text", text))
				cancel()
			}
		},
		OnQuit: func(reason string) {
			logger.Info("session ended by relay", zap.String("reason", reason))
			cancel()
		},
		Logger: logger,
	})

	if *exportRegion != "" {
		if err := p.ExportRegion(*exportRegion, *regionFile); err != nil {
			logger.Fatal("export region", zap.Error(err))
		}
		return
	}
	if *importRegion != "" {
		if err := p.ImportRegion(*regionFile, *importRegion); err != nil {
			logger.Fatal("import region", zap.Error(err))
		}
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := ws.Dial(dialCtx, cfg.RelayURL, ws.Options{Logger: logger})
	dialCancel()
	if err != nil {
		logger.Fatal("dial relay", zap.String("url", cfg.RelayURL), zap.Error(err))
	}
	defer conn.Close()
	link.conn = conn

	if err := p.Login(); err != nil {
		logger.Fatal("login", zap.Error(err))
	}

	if err := p.Run(ctx, conn.Inbound()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("peer loop", zap.Error(err))
	}
	if err := conn.Err(); err != nil {
		logger.Info("connection closed", zap.Error(err))
	}
}

// start kicks off the transfer or event the flags asked for.
func start(ctx context.Context, p *peer.Peer, mode, event, to string, picks []peer.Pick) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("missing -to")
	}
	if event != "" {
		kind, ok := protocol.ParseEventKind(event)
		if !ok {
			return fmt.Errorf("unknown event %q", event)
		}
		return p.SendEvent(kind, to)
	}
	var m manifest.Mode
	switch strings.ToLower(mode) {
	case "gift":
		m = manifest.ModeGift
	case "trade":
		m = manifest.ModeTrade
	case "droppod", "drop_pod":
		m = manifest.ModeDropPod
	default:
		return fmt.Errorf("unknown transfer mode %q", mode)
	}
	return p.SendGoods(ctx, m, to, picks)
}

// lazyTransport lets the peer be built before the relay is dialled.
type lazyTransport struct {
	conn *ws.Conn
}

func (t *lazyTransport) Enqueue(pkt protocol.Packet) error {
	if t.conn == nil {
		return ws.ErrClosed
	}
	return t.conn.Enqueue(pkt)
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
