// Package rpc
package rpc

import "context"

// Metadata carries call scoped key/value pairs to the remote side,
// including the injected trace context.
type Metadata map[string]string

// ClientConn is the connection collaborator a Client drives. The
// concrete Conn in this package implements it over a frame transport;
// anything with the same contract works, streaming is push based:
// the connection invokes the StreamHandler as events arrive.
type ClientConn interface {
	// WaitForReady blocks until the connection is usable or ctx ends.
	WaitForReady(ctx context.Context) error

	// Invoke performs one unary round trip. The ctx deadline is the
	// absolute call deadline.
	Invoke(ctx context.Context, path string, req []byte, md Metadata) ([]byte, error)

	// OpenStream starts a server streaming call and routes its events
	// to h until a terminal event or cancellation.
	OpenStream(ctx context.Context, path string, req []byte, md Metadata, h StreamHandler) (StreamHandle, error)

	Close() error
}

// StreamHandler receives push events for one streaming call, in
// transport order, terminal event last.
type StreamHandler interface {
	OnData(chunk []byte)
	OnEnd()
	OnError(err error)
}

// StreamHandle cancels one live streaming call. Cancel is safe to call
// after the stream already ended.
type StreamHandle interface {
	Cancel()
}
