package relay

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"caravan.ai/internal/protocol"
	"caravan.ai/internal/transport/ws"
)

const loginTimeout = 10 * time.Second

// WSHandler upgrades peers on /v1/ws and serves them until they leave.
func (h *Hub) WSHandler() http.HandlerFunc {
	up := ws.NewUpgrader(ws.Options{Logger: h.log})
	return func(rw http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(rw, r)
		if err != nil {
			h.log.Warn("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		h.Serve(r.Context(), c, c.Inbound())
	}
}

// Serve runs one peer connection: a LoginPacket first, then packets until in
// closes or ctx ends.
func (h *Hub) Serve(ctx context.Context, conn Conn, in <-chan protocol.Packet) {
	defer conn.Close()

	s := h.awaitLogin(ctx, conn, in)
	if s == nil {
		return
	}
	defer h.Leave(s)
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-in:
			if !ok {
				return
			}
			h.Handle(ctx, s, p)
		}
	}
}

func (h *Hub) awaitLogin(ctx context.Context, conn Conn, in <-chan protocol.Packet) *Session {
	timer := time.NewTimer(loginTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			_ = conn.Enqueue(protocol.MustPacket(protocol.TypeError, protocol.ErrorBody{Code: protocol.ErrNotLoggedIn, Message: "login timeout"}))
			return nil
		case p, ok := <-in:
			if !ok {
				return nil
			}
			if p.Type != protocol.TypeLogin {
				_ = conn.Enqueue(protocol.MustPacket(protocol.TypeError, protocol.ErrorBody{Code: protocol.ErrNotLoggedIn, Message: p.Type + " before LoginPacket"}))
				continue
			}
			h.metrics.Packets.WithLabelValues(p.Type).Inc()
			var body protocol.LoginBody
			if err := p.DecodeBody(&body); err != nil {
				_ = conn.Enqueue(protocol.MustPacket(protocol.TypeError, protocol.ErrorBody{Code: protocol.ErrProtoBadRequest, Message: err.Error()}))
				return nil
			}
			s, _ := h.Login(conn, body)
			return s
		}
	}
}
