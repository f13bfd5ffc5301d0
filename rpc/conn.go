// Package rpc
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/yingshulu/rpcproxy/transport"
)

const (
	connIdKey = "X-CONNECTION-ID"
	hostIdKey = "X-HOST-ID"
	authKey   = "X-AUTH-TOKEN"
)

// Dial connects to addr (tcp://, ws:// or wss://), negotiates the peer
// identity and returns a Conn implementing ClientConn. The connection
// counts as ready once the peer announces availability with a ready
// message, which is what WaitForReady blocks on.
func Dial(addr string, options ...Option) (*Conn, error) {
	ops := defaultOptions()
	ops.Apply(options)

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "tcp":
		return dialTcp(u, addr, ops)
	case "ws", "wss":
		return dialWs(addr, ops)
	}
	return nil, fmt.Errorf("not support connection: %v", addr)
}

func dialTcp(u *url.URL, addr string, ops *Options) (*Conn, error) {
	tc, err := net.Dial("tcp", u.Host)
	if err != nil {
		return nil, err
	}

	var secret string
	if ops.CredentialProvider != nil {
		secret = ops.CredentialProvider()
	}
	peer, id, err := transport.ClientNegotiate(tc, ops.Host, secret)
	if err != nil {
		tc.Close()
		return nil, err
	}
	return NewConn(transport.New(tc), peer, id, addr), nil
}

func dialWs(addr string, ops *Options) (*Conn, error) {
	header := http.Header{}
	header.Add(hostIdKey, ops.Host)
	if ops.CredentialProvider != nil {
		header.Add(authKey, ops.CredentialProvider())
	}

	wsc, resp, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		return nil, err
	}

	id := resp.Header.Get(connIdKey)
	if id == "" {
		id = uuid.NewString()
	}
	peer := resp.Header.Get(hostIdKey)
	return NewConn(transport.NewWebSocket(wsc), peer, id, addr), nil
}

// NewConn wraps an established frame transport. Useful for tests and
// in-process loopbacks; Dial is the usual entry point.
func NewConn(t transport.Transport, peer, id, addr string) *Conn {
	co := &Conn{
		t:             t,
		peer:          peer,
		id:            id,
		addr:          addr,
		sendingFrames: make(chan *transport.Frame),
		ready:         make(chan struct{}),
		closeNotify:   make(chan struct{}),
	}
	co.log = log.WithFields(log.Fields{
		"Name": "Connection",
		"ID":   co.id,
		"Peer": co.peer,
	})

	go co.readLoop()
	go co.writeLoop()
	return co
}

// Conn multiplexes unary calls and server streams over one frame
// transport. Unary replies are matched by message id; stream events
// are dispatched to the handler registered for their id.
type Conn struct {
	t    transport.Transport
	peer string
	id   string
	addr string

	sendingFrames chan *transport.Frame
	messageID     atomic.Uint32
	chanMap       sync.Map // uint32 -> chan *Message
	handlers      sync.Map // uint32 -> StreamHandler

	ready     chan struct{}
	readyOnce sync.Once

	closeNotify chan struct{}
	closeOnce   sync.Once

	log *log.Entry
}

func (co *Conn) Peer() string {
	return co.peer
}

func (co *Conn) ID() string {
	return co.id
}

func (co *Conn) WaitForReady(ctx context.Context) error {
	select {
	case <-co.ready:
		return nil
	case <-co.closeNotify:
		return fmt.Errorf("connection %s closed", co.peer)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (co *Conn) Invoke(ctx context.Context, path string, req []byte, md Metadata) ([]byte, error) {
	m := &Message{
		Type:     RequestType,
		ID:       co.nextMessageID(),
		Path:     path,
		Metadata: md,
		Data:     req,
	}

	ch := make(chan *Message, 1)
	co.chanMap.Store(m.ID, ch)
	defer co.chanMap.Delete(m.ID)

	if err := co.writeMessage(m); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-co.closeNotify:
		return nil, fmt.Errorf("connection %s closed", co.peer)

	case replyMsg := <-ch:
		if replyMsg.Type == ErrorType {
			return nil, errors.New(replyMsg.Error)
		}
		return replyMsg.Data, nil
	}
}

func (co *Conn) OpenStream(ctx context.Context, path string, req []byte, md Metadata, h StreamHandler) (StreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := co.nextMessageID()
	co.handlers.Store(id, h)

	m := &Message{
		Type:     StreamOpenType,
		ID:       id,
		Path:     path,
		Metadata: md,
		Data:     req,
	}
	if err := co.writeMessage(m); err != nil {
		co.handlers.Delete(id)
		return nil, err
	}
	return &connStream{conn: co, id: id}, nil
}

func (co *Conn) Close() error {
	return co.teardown(nil)
}

func (co *Conn) nextMessageID() uint32 {
	return co.messageID.Add(1)
}

func (co *Conn) readLoop() {
	for {
		f, err := co.t.Read()
		if err != nil {
			co.teardown(err)
			return
		}

		msg := &Message{}
		if err = msg.Decode(f.Payload); err != nil {
			co.log.Errorf("decode message err: %v", err)
			co.teardown(err)
			return
		}

		switch msg.Type {
		case ReplyType:
			if v, ok := co.chanMap.Load(msg.ID); ok {
				v.(chan *Message) <- msg
			}

		case ErrorType:
			if v, ok := co.chanMap.Load(msg.ID); ok {
				v.(chan *Message) <- msg
			} else if h, ok := co.handlers.LoadAndDelete(msg.ID); ok {
				h.(StreamHandler).OnError(errors.New(msg.Error))
			}

		case StreamDataType:
			if h, ok := co.handlers.Load(msg.ID); ok {
				h.(StreamHandler).OnData(msg.Data)
			}

		case StreamEndType:
			if h, ok := co.handlers.LoadAndDelete(msg.ID); ok {
				h.(StreamHandler).OnEnd()
			}

		case ReadyType:
			co.log.Debug("peer ready")
			co.readyOnce.Do(func() {
				close(co.ready)
			})

		case CloseType:
			co.log.Debugf("get close msg: %s", msg.Error)
			co.teardown(errors.New(msg.Error))
			return
		}
	}
}

func (co *Conn) writeLoop() {
	for {
		select {
		case f := <-co.sendingFrames:
			if err := co.t.Write(f); err != nil {
				co.log.Errorf("write err: %v", err)
				co.teardown(err)
				return
			}
		case <-co.closeNotify:
			return
		}
	}
}

func (co *Conn) writeMessage(m *Message) error {
	payload, err := m.Encode()
	if err != nil {
		return err
	}
	return co.writeFrame(transport.NewFrame(payload))
}

func (co *Conn) writeFrame(f *transport.Frame) error {
	select {
	case co.sendingFrames <- f:
		return nil
	case <-co.closeNotify:
		return fmt.Errorf("connection %s closed", co.peer)
	}
}

// teardown releases every waiter exactly once: pending stream handlers
// observe an error event, blocked unary calls observe closeNotify.
func (co *Conn) teardown(cause error) error {
	var err error
	co.closeOnce.Do(func() {
		close(co.closeNotify)

		reason := fmt.Errorf("connection %s closed", co.peer)
		if cause != nil {
			reason = fmt.Errorf("connection %s closed: %w", co.peer, cause)
		}
		co.handlers.Range(func(key, value interface{}) bool {
			if h, ok := co.handlers.LoadAndDelete(key); ok {
				h.(StreamHandler).OnError(reason)
			}
			return true
		})

		co.log.Debugf("connection closed, cause: %v", cause)
		err = co.t.Close()
	})
	return err
}

// connStream cancels one stream: the handler is detached first, so no
// event after Cancel reaches the bridge, then the peer is told to stop
// pushing. Best effort, the conn may already be gone.
type connStream struct {
	conn *Conn
	id   uint32
}

func (s *connStream) Cancel() {
	if _, ok := s.conn.handlers.LoadAndDelete(s.id); !ok {
		return
	}
	m := &Message{
		Type: CancelType,
		ID:   s.id,
	}
	if err := s.conn.writeMessage(m); err != nil {
		s.conn.log.Debugf("cancel stream %d: %v", s.id, err)
	}
}
