// Package relay mediates between peers: login, roster, location ownership,
// transfer and event routing, and administrative commands.
package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"caravan.ai/internal/config"
	"caravan.ai/internal/dispatch"
	"caravan.ai/internal/observability"
	"caravan.ai/internal/persistence/audit"
	"caravan.ai/internal/persistence/ledger"
	"caravan.ai/internal/protocol"
)

// Conn is a peer connection as the hub sees it.
type Conn interface {
	Enqueue(protocol.Packet) error
	Close() error
}

// Session is one logged-in peer.
type Session struct {
	ID        string
	Username  string
	Locations []string
	conn      Conn
}

type Options struct {
	Config        config.RelayConfig
	CatalogDigest string
	Metrics       *observability.RelayMetrics
	Ledger        *ledger.Ledger
	Audit         *audit.Log
	Logger        *zap.Logger
}

type Hub struct {
	cfg           config.RelayConfig
	prices        dispatch.PriceTable
	catalogDigest string
	metrics       *observability.RelayMetrics
	ledger        *ledger.Ledger
	audit         *audit.Log
	log           *zap.Logger

	mu        sync.Mutex
	sessions  map[string]*Session // by username
	owners    map[string]string   // location -> username
	accounts  map[string]string   // username -> password
	banned    map[string]bool
	admins    map[string]bool
	whitelist map[string]bool
}

func NewHub(o Options) (*Hub, error) {
	prices, err := dispatch.PricesFromNames(o.Config.EventCosts)
	if err != nil {
		return nil, fmt.Errorf("event_costs: %w", err)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = observability.NewRelayMetrics()
	}
	h := &Hub{
		cfg:           o.Config,
		prices:        prices,
		catalogDigest: o.CatalogDigest,
		metrics:       o.Metrics,
		ledger:        o.Ledger,
		audit:         o.Audit,
		log:           o.Logger.Named("relay"),
		sessions:      map[string]*Session{},
		owners:        map[string]string{},
		accounts:      map[string]string{},
		banned:        toSet(o.Config.Banned),
		admins:        toSet(o.Config.Admins),
		whitelist:     toSet(o.Config.Whitelist),
	}
	return h, nil
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func (h *Hub) Metrics() *observability.RelayMetrics { return h.metrics }
func (h *Hub) Ledger() *ledger.Ledger               { return h.ledger }

// Login validates a LoginPacket body and registers the session. On any result
// other than success the response is sent and conn is closed.
func (h *Hub) Login(conn Conn, body protocol.LoginBody) (*Session, protocol.LoginResult) {
	result, msg := h.checkLogin(body)
	h.metrics.Logins.WithLabelValues(result.String()).Inc()
	h.ledger.RecordLogin(ledger.Login{Username: body.Username, Result: result.String()})
	h.writeAudit(audit.Entry{Kind: "login", Actor: body.Username, Outcome: result.String(), Detail: msg})

	if result != protocol.LoginSuccess {
		h.log.Info("login refused", zap.String("user", body.Username), zap.Stringer("result", result), zap.String("reason", msg))
		_ = conn.Enqueue(protocol.MustPacket(protocol.TypeLoginResponse, protocol.LoginResponseBody{Result: result, Message: msg}))
		_ = conn.Close()
		return nil, result
	}

	s := &Session{ID: uuid.NewString(), Username: body.Username, Locations: body.Locations, conn: conn}
	h.mu.Lock()
	old := h.sessions[body.Username]
	h.sessions[body.Username] = s
	for _, loc := range body.Locations {
		h.owners[loc] = body.Username
	}
	admin := h.admins[body.Username]
	h.metrics.Peers.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	if old != nil {
		h.log.Info("replacing previous session", zap.String("user", body.Username))
		_ = old.conn.Enqueue(protocol.MustPacket(protocol.TypeCommand, protocol.CommandBody{Kind: protocol.CommandDisconnect}))
		_ = old.conn.Close()
	}
	_ = conn.Enqueue(protocol.MustPacket(protocol.TypeLoginResponse, protocol.LoginResponseBody{
		Result:    protocol.LoginSuccess,
		SessionID: s.ID,
		Admin:     admin,
		Prices:    [protocol.EventKindCount]int(h.prices),
	}))
	h.log.Info("peer logged in", zap.String("user", s.Username), zap.String("session", s.ID), zap.Strings("locations", s.Locations))
	h.recount()
	return s, protocol.LoginSuccess
}

func (h *Hub) checkLogin(b protocol.LoginBody) (protocol.LoginResult, string) {
	if b.ClientVersion != protocol.Version {
		return protocol.LoginWrongVersion, fmt.Sprintf("relay speaks %s", protocol.Version)
	}
	if err := config.ValidateUsername(b.Username); err != nil {
		return protocol.LoginInvalid, err.Error()
	}
	if b.Password == "" {
		return protocol.LoginInvalid, "password is required"
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.banned[b.Username] {
		return protocol.LoginBanned, "banned"
	}
	if h.cfg.UseWhitelist && !h.whitelist[b.Username] {
		return protocol.LoginWhitelist, "not whitelisted"
	}
	if h.cfg.RequireCatalog && h.catalogDigest != "" && b.CatalogDigest != h.catalogDigest {
		return protocol.LoginWrongCatalog, "catalog digest mismatch"
	}
	if pw, ok := h.accounts[b.Username]; ok && pw != b.Password {
		return protocol.LoginInvalid, "wrong password"
	}
	for _, loc := range b.Locations {
		if loc == "" {
			return protocol.LoginRegisterError, "empty location id"
		}
		if owner, ok := h.owners[loc]; ok && owner != b.Username {
			return protocol.LoginRegisterError, fmt.Sprintf("location %s belongs to %s", loc, owner)
		}
	}
	h.accounts[b.Username] = b.Password
	return protocol.LoginSuccess, ""
}

// Leave drops a session. Locations stay registered to their owner.
func (h *Hub) Leave(s *Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	cur, ok := h.sessions[s.Username]
	if ok && cur == s {
		delete(h.sessions, s.Username)
	}
	h.metrics.Peers.Set(float64(len(h.sessions)))
	h.mu.Unlock()
	if ok && cur == s {
		h.log.Info("peer left", zap.String("user", s.Username))
		h.recount()
	}
}

// Roster lists logged-in usernames.
func (h *Hub) Roster() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.sessions))
	for n := range h.sessions {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Owners returns the location registry.
func (h *Hub) Owners() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.owners))
	for k, v := range h.owners {
		out[k] = v
	}
	return out
}

func (h *Hub) recount() {
	roster := h.Roster()
	p := protocol.MustPacket(protocol.TypeRecount, protocol.RecountBody{Players: roster})
	for _, s := range h.online() {
		if err := s.conn.Enqueue(p); err != nil {
			h.log.Warn("recount not delivered", zap.String("user", s.Username), zap.Error(err))
		}
	}
}

func (h *Hub) online() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (h *Hub) session(username string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[username]
}

// ownerSession returns the online session owning location, with the owner
// name even when offline.
func (h *Hub) ownerSession(location string) (string, *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	owner, ok := h.owners[location]
	if !ok {
		return "", nil
	}
	return owner, h.sessions[owner]
}

func (h *Hub) owns(s *Session, location string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owners[location] == s.Username
}

// Handle processes one packet from a logged-in peer.
func (h *Hub) Handle(ctx context.Context, s *Session, p protocol.Packet) {
	h.metrics.Packets.WithLabelValues(p.Type).Inc()
	if p.ProtocolVersion != protocol.Version {
		h.sendError(s, protocol.ErrProtoVersion, fmt.Sprintf("protocol version %q", p.ProtocolVersion))
		return
	}
	switch p.Type {
	case protocol.TypeTransfer:
		h.routeTransfer(s, p)
	case protocol.TypeEvent:
		h.routeEvent(s, p)
	case protocol.TypeLogin:
		h.sendError(s, protocol.ErrProtoBadRequest, "already logged in")
	default:
		h.log.Debug("packet ignored", zap.String("user", s.Username), zap.String("type", p.Type))
	}
}

func (h *Hub) sendError(s *Session, code, msg string) {
	_ = s.conn.Enqueue(protocol.MustPacket(protocol.TypeError, protocol.ErrorBody{Code: code, Message: msg}))
}

func (h *Hub) writeAudit(e audit.Entry) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Write(e); err != nil {
		h.log.Warn("audit write failed", zap.Error(err))
	}
}

// Shutdown tells every peer the relay is quitting and closes them.
func (h *Hub) Shutdown(ctx context.Context) {
	for _, s := range h.online() {
		h.pushCommand(s, protocol.CommandQuit, "")
		_ = s.conn.Close()
	}
	if h.ledger != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = h.ledger.Flush(flushCtx)
	}
}
