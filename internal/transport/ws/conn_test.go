package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caravan.ai/internal/protocol"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := NewUpgrader(Options{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r)
		if err != nil {
			return
		}
		defer c.Close()
		for p := range c.Inbound() {
			if err := c.Enqueue(p); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRoundTripPreservesOrder(t *testing.T) {
	srv := echoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	for i := 0; i < 10; i++ {
		body := protocol.RecountBody{Players: []string{string(rune('a' + i))}}
		if err := c.Enqueue(protocol.MustPacket(protocol.TypeRecount, body)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < 10; i++ {
		select {
		case p := <-c.Inbound():
			var body protocol.RecountBody
			if err := p.DecodeBody(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if want := string(rune('a' + i)); body.Players[0] != want {
				t.Fatalf("unexpected order: got=%s want=%s", body.Players[0], want)
			}
		case <-ctx.Done():
			t.Fatalf("timed out after %d packets", i)
		}
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	srv := echoServer(t)
	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.Close()
	if err := c.Enqueue(protocol.MustPacket(protocol.TypeRecount, protocol.RecountBody{})); err != ErrClosed {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrClosed)
	}
	select {
	case _, ok := <-c.Inbound():
		if ok {
			t.Fatalf("inbound still open")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("inbound not closed")
	}
}
