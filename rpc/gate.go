// Package rpc
package rpc

import (
	"context"
	"errors"
	"sync"
	"time"
)

func newReadyGate(conn ClientConn, endpoint string, timeout time.Duration) *readyGate {
	return &readyGate{
		conn:     conn,
		endpoint: endpoint,
		timeout:  timeout,
	}
}

// readyGate is the per client one-shot readiness latch. The first
// caller starts the underlying wait; every caller arriving while that
// wait is in flight shares its outcome. Success is memoized, failure
// is not: the next call after a failed round starts a fresh wait.
type readyGate struct {
	conn     ClientConn
	endpoint string
	timeout  time.Duration

	lock   sync.Mutex
	ready  bool
	flight *readyFlight
}

type readyFlight struct {
	done chan struct{}
	err  error
}

func (g *readyGate) wait(ctx context.Context) error {
	g.lock.Lock()
	if g.ready {
		g.lock.Unlock()
		return nil
	}
	f := g.flight
	if f == nil {
		f = &readyFlight{done: make(chan struct{})}
		g.flight = f
		go g.run(f)
	}
	g.lock.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return f.err
	}
}

func (g *readyGate) run(f *readyFlight) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	err := g.conn.WaitForReady(ctx)

	g.lock.Lock()
	if err == nil {
		g.ready = true
	} else if errors.Is(err, context.DeadlineExceeded) {
		f.err = &ConnectionTimeoutError{Endpoint: g.endpoint, Timeout: g.timeout}
	} else {
		f.err = &ConnectionError{Endpoint: g.endpoint, Err: err}
	}
	g.flight = nil
	g.lock.Unlock()

	close(f.done)
}

func (g *readyGate) isReady() bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.ready
}
