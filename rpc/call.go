// Package rpc
package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/yingshulu/rpcproxy/stream"
)

// invokeUnary runs one request/response cycle: sent counter, client
// span, readiness wait, absolute deadline, trace injection, transport
// invocation, then outcome metrics and span end. Transport errors,
// deadline exceeded included, surface verbatim.
func (c *Client) invokeUnary(ctx context.Context, p *methodProxy, request, reply interface{}) (err error) {
	ins := c.instruments.Load()
	start := time.Now()

	ins.sent.Add(ctx, 1, p.baseOpt)
	ctx, span := ins.startSpan(ctx, p.desc.path, c.options.Endpoint)
	defer func() {
		p.record(ins, start, err)
		endSpan(span, err)
	}()

	if err = c.gate.wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.options.RequestTimeout)
	defer cancel()

	md := Metadata{}
	ins.inject(ctx, md)

	data, err := p.desc.codec.EncodeRequest(request)
	if err != nil {
		return err
	}

	out, err := c.conn.Invoke(callCtx, p.desc.path, data, md)
	if err != nil {
		return err
	}
	return p.desc.codec.DecodeResponse(out, reply)
}

// openStream starts a server streaming cycle. Transport events are
// wired into a fresh bridge, the live stream is registered for
// disposal, and the terminal bookkeeping runs exactly once whether the
// stream ends, fails, or is canceled. No deadline: streams are open
// ended by design.
func (c *Client) openStream(ctx context.Context, p *methodProxy, request interface{}) (Stream, error) {
	ins := c.instruments.Load()
	start := time.Now()

	ins.sent.Add(ctx, 1, p.baseOpt)
	ctx, span := ins.startSpan(ctx, p.desc.path, c.options.Endpoint)

	abort := func(err error) (Stream, error) {
		p.record(ins, start, err)
		endSpan(span, err)
		return nil, err
	}

	if err := c.gate.wait(ctx); err != nil {
		return abort(err)
	}

	data, err := p.desc.codec.EncodeRequest(request)
	if err != nil {
		return abort(err)
	}

	md := Metadata{}
	ins.inject(ctx, md)

	bridge := stream.NewBridge()
	ls := &liveStream{}
	var once sync.Once
	ls.finish = func(err error) {
		once.Do(func() {
			bridge.Fail(err)
			p.record(ins, start, err)
			endSpan(span, err)
			c.unregister(ls)
		})
	}
	c.register(ls)

	handle, err := c.conn.OpenStream(ctx, p.desc.path, data, md, &bridgeHandler{
		bridge: bridge,
		finish: ls.finish,
	})
	if err != nil {
		ls.finish(err)
		return nil, err
	}
	ls.setHandle(handle)

	return &clientStream{desc: p.desc, bridge: bridge, live: ls}, nil
}

// liveStream is one entry of the pending stream registry. finish is
// the once-only terminal bookkeeping; cancel additionally tears the
// transport side down and is what disposal drives.
type liveStream struct {
	finish func(error)

	lock     sync.Mutex
	handle   StreamHandle
	canceled bool
}

func (ls *liveStream) setHandle(h StreamHandle) {
	ls.lock.Lock()
	canceled := ls.canceled
	ls.handle = h
	ls.lock.Unlock()
	if canceled {
		h.Cancel()
	}
}

func (ls *liveStream) cancel(err error) {
	ls.lock.Lock()
	ls.canceled = true
	h := ls.handle
	ls.lock.Unlock()
	if h != nil {
		h.Cancel()
	}
	ls.finish(err)
}

// bridgeHandler routes transport push events into the bridge. Data
// arriving after the terminal event is dropped there silently.
type bridgeHandler struct {
	bridge *stream.Bridge
	finish func(error)
}

func (h *bridgeHandler) OnData(chunk []byte) {
	h.bridge.Push(chunk)
}

func (h *bridgeHandler) OnEnd() {
	h.finish(nil)
}

func (h *bridgeHandler) OnError(err error) {
	h.finish(err)
}

type clientStream struct {
	desc   *methodDesc
	bridge *stream.Bridge
	live   *liveStream
}

func (s *clientStream) Recv(ctx context.Context, reply interface{}) error {
	chunk, err := s.bridge.Recv(ctx)
	if err != nil {
		return err
	}
	return s.desc.codec.DecodeResponse(chunk, reply)
}

// Close abandons the stream before its natural end. The consumer gone
// condition is not an error: the transport side is canceled and any
// chunk still in flight is dropped.
func (s *clientStream) Close() error {
	s.live.cancel(nil)
	return nil
}
