// Package stream adapts push style transport events into a pull
// consumable sequence. The producer side calls Push for every data
// event and terminates the bridge exactly once with Close or Fail;
// the consumer side pulls with Recv.
package stream

import (
	"context"
	"io"
	"sync"
)

type state int

const (
	open state = iota
	closed
	failed
)

func NewBridge() *Bridge {
	return &Bridge{
		pending: newQueue(),
		notify:  make(chan struct{}, 1),
	}
}

// Bridge is a single-producer single-consumer adapter. Chunks are
// consumed in push order; the terminal outcome is observed only after
// every buffered chunk has been drained. Pushing after termination is
// not an error, the chunk is dropped.
type Bridge struct {
	lock    sync.Mutex
	pending *queue
	state   state
	err     error
	notify  chan struct{}
}

func (b *Bridge) Push(chunk []byte) {
	b.lock.Lock()
	if b.state != open {
		b.lock.Unlock()
		return
	}
	b.pending.push(chunk)
	b.lock.Unlock()
	b.wake()
}

// Close marks a clean end of the sequence. The first terminal wins.
func (b *Bridge) Close() {
	b.terminate(closed, nil)
}

// Fail marks the sequence failed with err. The first terminal wins.
func (b *Bridge) Fail(err error) {
	if err == nil {
		b.Close()
		return
	}
	b.terminate(failed, err)
}

func (b *Bridge) terminate(s state, err error) {
	b.lock.Lock()
	if b.state != open {
		b.lock.Unlock()
		return
	}
	b.state = s
	b.err = err
	b.lock.Unlock()
	b.wake()
}

// Recv returns the next chunk, blocking until one is pushed or the
// bridge terminates. A clean end yields io.EOF, a failed bridge yields
// the stored error on every call after the buffer drains.
func (b *Bridge) Recv(ctx context.Context) ([]byte, error) {
	for {
		b.lock.Lock()
		if chunk, ok := b.pending.pop(); ok {
			b.lock.Unlock()
			return chunk, nil
		}
		switch b.state {
		case closed:
			b.lock.Unlock()
			return nil, io.EOF
		case failed:
			err := b.err
			b.lock.Unlock()
			return nil, err
		}
		b.lock.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		}
	}
}

// Terminated reports whether the bridge reached a terminal state.
func (b *Bridge) Terminated() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.state != open
}

func (b *Bridge) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
