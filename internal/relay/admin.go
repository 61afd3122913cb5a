package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"caravan.ai/internal/persistence/ledger"
	"caravan.ai/internal/protocol"
)

type CommandRequest struct {
	Command string `json:"command"`
	Target  string `json:"target,omitempty"`
	Text    string `json:"text,omitempty"`
}

type EventRequest struct {
	Event    string `json:"event"`
	Location string `json:"location"`
}

type PeersResponse struct {
	Players []string          `json:"players"`
	Owners  map[string]string `json:"owners"`
}

// RegisterAdmin mounts the /admin/v1 endpoints on mux. With an admin token
// configured every request needs it as a bearer token; without one only
// loopback callers are served.
func (h *Hub) RegisterAdmin(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/peers", h.guard(http.MethodGet, func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, PeersResponse{Players: h.Roster(), Owners: h.Owners()})
	}))
	mux.HandleFunc("/admin/v1/commands", h.guard(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
		var req CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		kind, ok := protocol.ParseCommand(req.Command)
		if !ok {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "unknown command " + strconv.Quote(req.Command)})
			return
		}
		if err := h.Command(kind, req.Target, req.Text); err != nil {
			writeJSON(rw, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
	}))
	mux.HandleFunc("/admin/v1/events", h.guard(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
		var req EventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		kind, ok := protocol.ParseEventKind(req.Event)
		if !ok {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "unknown event " + strconv.Quote(req.Event)})
			return
		}
		if err := h.InjectEvent(kind, req.Location); err != nil {
			writeJSON(rw, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
	}))
	mux.HandleFunc("/admin/v1/transfers", h.guard(http.MethodGet, func(rw http.ResponseWriter, r *http.Request) {
		if h.ledger == nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "ledger disabled"})
			return
		}
		ctx, cancel := h.queryContext(r)
		defer cancel()
		var (
			rows []ledger.Transfer
			err  error
		)
		if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
			rows, err = h.ledger.TransferHistory(ctx, id)
		} else {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			if limit <= 0 || limit > 1000 {
				limit = 50
			}
			rows, err = h.ledger.RecentTransfers(ctx, limit)
		}
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "transfers": rows})
	}))
	mux.HandleFunc("/admin/v1/stats", h.guard(http.MethodGet, func(rw http.ResponseWriter, r *http.Request) {
		if h.ledger == nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "ledger disabled"})
			return
		}
		ctx, cancel := h.queryContext(r)
		defer cancel()
		st, err := h.ledger.Stats(ctx)
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "stats": st, "peers": len(h.Roster())})
	}))
}

// queryContext flushes pending ledger rows so reads see them.
func (h *Hub) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	_ = h.ledger.Flush(ctx)
	return ctx, cancel
}

func (h *Hub) guard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.authorized(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next(rw, r)
	}
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.cfg.AdminToken == "" {
		return isLoopbackRemote(r.RemoteAddr)
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.AdminToken)) == 1
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
