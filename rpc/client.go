// Package rpc
package rpc

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// NewClient resolves def and builds a client proxy over conn: one
// callable per resolved method plus Init and Close. The conn is owned
// by the client from here on and closed together with it.
func NewClient(def Definition, conn ClientConn, options ...Option) (*Client, error) {
	ops := defaultOptions()
	ops.Apply(options)

	descs, err := resolve(def)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:    conn,
		options: ops,
		gate:    newReadyGate(conn, ops.Endpoint, ops.ConnectTimeout),
		streams: map[*liveStream]struct{}{},
	}
	c.log = log.WithFields(log.Fields{
		"Name":     "Client",
		"Service":  def.Service,
		"Endpoint": ops.Endpoint,
	})
	c.instruments.Store(newInstruments(Component{Propagator: ops.Propagator}))

	c.methods = make(map[string]*methodProxy, len(descs))
	for name, d := range descs {
		c.methods[name] = newMethodProxy(c, d)
	}
	return c, nil
}

// Client is a dynamically shaped service proxy. Methods resolved from
// the definition are reached through Proxy, Call and Open. The only
// mutable shared state are the readiness latch, the pending stream
// registry and the instrument bundle; descriptors are immutable and
// the conn is shared read-only across calls.
type Client struct {
	conn    ClientConn
	options *Options
	gate    *readyGate
	methods map[string]*methodProxy

	instruments atomic.Pointer[instruments]

	lock    sync.Mutex
	streams map[*liveStream]struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	log       *log.Entry
}

// Init installs the tracing and metrics backends. The hosting
// framework calls it exactly once before first use; executors created
// at build time observe the replacement through the atomic bundle.
func (c *Client) Init(component Component) {
	if component.Propagator == nil {
		component.Propagator = c.options.Propagator
	}
	c.instruments.Store(newInstruments(component))
}

// Proxy returns the callable for one resolved method.
func (c *Client) Proxy(method string) (Proxy, error) {
	p, ok := c.methods[method]
	if !ok {
		return nil, ErrMethodNotFound
	}
	return p, nil
}

// Methods lists the resolved method names.
func (c *Client) Methods() []string {
	names := make([]string, 0, len(c.methods))
	for name := range c.methods {
		names = append(names, name)
	}
	return names
}

// Call invokes a unary method by name.
func (c *Client) Call(ctx context.Context, method string, request, reply interface{}) error {
	p, err := c.Proxy(method)
	if err != nil {
		return err
	}
	return p.Call(ctx, request, reply)
}

// Open starts a server streaming method by name.
func (c *Client) Open(ctx context.Context, method string, request interface{}) (Stream, error) {
	p, err := c.Proxy(method)
	if err != nil {
		return nil, err
	}
	return p.Open(ctx, request)
}

// Close cancels every pending stream, releasing any blocked consumer,
// then closes the underlying connection. Safe when no stream is
// pending; calls issued afterwards fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.lock.Lock()
		pending := make([]*liveStream, 0, len(c.streams))
		for ls := range c.streams {
			pending = append(pending, ls)
		}
		c.lock.Unlock()

		for _, ls := range pending {
			ls.cancel(ErrClosed)
		}
		err = c.conn.Close()
		c.log.Debugf("closed, canceled %d pending streams", len(pending))
	})
	return err
}

func (c *Client) register(ls *liveStream) {
	c.lock.Lock()
	c.streams[ls] = struct{}{}
	c.lock.Unlock()

	// a Close racing with the call above must still cancel ls
	if c.closed.Load() {
		ls.cancel(ErrClosed)
	}
}

func (c *Client) unregister(ls *liveStream) {
	c.lock.Lock()
	delete(c.streams, ls)
	c.lock.Unlock()
}

func (c *Client) pendingStreams() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.streams)
}
