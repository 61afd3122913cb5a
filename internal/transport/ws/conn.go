// Package ws carries protocol packets over a websocket: one reader goroutine
// feeds an inbound queue and one writer goroutine drains the outbound one.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"caravan.ai/internal/protocol"
)

var (
	ErrClosed    = errors.New("connection closed")
	ErrQueueFull = errors.New("outbound queue full")
)

const (
	writeWait    = 5 * time.Second
	readWait     = 90 * time.Second
	pingInterval = 30 * time.Second
	maxMessage   = 64 << 20
)

type Options struct {
	// OutQueue bounds queued outbound packets; InQueue bounds received
	// packets waiting for the peer loop.
	OutQueue int
	InQueue  int
	Logger   *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.OutQueue <= 0 {
		o.OutQueue = 64
	}
	if o.InQueue <= 0 {
		o.InQueue = 64
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Conn is a packet connection. Enqueue is safe for concurrent use; packets
// are written in enqueue order.
type Conn struct {
	ws  *websocket.Conn
	log *zap.Logger

	out chan []byte
	in  chan protocol.Packet

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

func newConn(c *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		ws:     c,
		log:    opts.Logger.Named("ws"),
		out:    make(chan []byte, opts.OutQueue),
		in:     make(chan protocol.Packet, opts.InQueue),
		ctx:    ctx,
		cancel: cancel,
	}
	c.SetReadLimit(maxMessage)
	conn.wg.Add(2)
	go conn.readLoop()
	go conn.writeLoop()
	return conn
}

// Dial connects to a relay websocket endpoint.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	d := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	c, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newConn(c, opts), nil
}

// Upgrader accepts peer connections on the relay.
type Upgrader struct {
	up   websocket.Upgrader
	opts Options
}

func NewUpgrader(opts Options) *Upgrader {
	return &Upgrader{
		up: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		opts: opts,
	}
}

func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	c, err := u.up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(c, u.opts), nil
}

// Inbound yields received packets. It is closed when the connection ends.
func (c *Conn) Inbound() <-chan protocol.Packet { return c.in }

// Done is closed once the connection is shutting down.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Err reports why the connection ended.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Enqueue queues p without blocking.
func (c *Conn) Enqueue(p protocol.Packet) error {
	if p.ProtocolVersion == "" {
		p.ProtocolVersion = protocol.Version
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.out <- b:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Close gives queued packets a moment to drain, then stops both goroutines
// and closes the socket.
func (c *Conn) Close() error {
	deadline := time.Now().Add(writeWait)
	for len(c.out) > 0 && time.Now().Before(deadline) {
		select {
		case <-c.ctx.Done():
			deadline = time.Now()
		case <-time.After(10 * time.Millisecond):
		}
	}
	c.fail(ErrClosed)
	c.wg.Wait()
	return nil
}

func (c *Conn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.cancel()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.in)
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readWait))
	})
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
		p, err := protocol.DecodePacket(msg)
		if err != nil {
			c.log.Warn("undecodable packet dropped", zap.Error(err))
			continue
		}
		select {
		case c.in <- p:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case b := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.fail(err)
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.fail(err)
				return
			}
		}
	}
}
