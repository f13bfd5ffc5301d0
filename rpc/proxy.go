// Package rpc
package rpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Proxy is the callable installed for one resolved method. Unary
// methods answer Call, server streaming methods answer Open; invoking
// the wrong shape fails without reaching the transport.
type Proxy interface {
	Call(ctx context.Context, request, reply interface{}) error
	Open(ctx context.Context, request interface{}) (Stream, error)
}

// Stream is the pull side of one server streaming call. Recv decodes
// the next value, io.EOF marks the clean end. Close abandons the
// stream; data pushed afterwards is dropped, it is not an error.
type Stream interface {
	Recv(ctx context.Context, reply interface{}) error
	Close() error
}

func newMethodProxy(c *Client, d *methodDesc) *methodProxy {
	pathAttr := attribute.String("path", d.path)
	endpointAttr := attribute.String("endpoint", c.options.Endpoint)
	return &methodProxy{
		client:  c,
		desc:    d,
		baseOpt: metric.WithAttributes(pathAttr, endpointAttr),
		successOpt: metric.WithAttributes(pathAttr, endpointAttr,
			attribute.String("result", "success")),
		errorOpt: metric.WithAttributes(pathAttr, endpointAttr,
			attribute.String("result", "error")),
	}
}

// methodProxy captures one immutable descriptor plus the shared client
// state. Metric attribute sets are fixed per method, so they are built
// once here instead of per call.
type methodProxy struct {
	client *Client
	desc   *methodDesc

	baseOpt    metric.MeasurementOption
	successOpt metric.MeasurementOption
	errorOpt   metric.MeasurementOption
}

func (p *methodProxy) Call(ctx context.Context, request, reply interface{}) error {
	if p.client.closed.Load() {
		return ErrClosed
	}
	if p.desc.requestStream {
		return ErrUnsupportedOperation
	}
	if p.desc.responseStream {
		return fmt.Errorf("method %s is server streaming, use Open", p.desc.name)
	}
	return p.client.invokeUnary(ctx, p, request, reply)
}

func (p *methodProxy) Open(ctx context.Context, request interface{}) (Stream, error) {
	if p.client.closed.Load() {
		return nil, ErrClosed
	}
	if p.desc.requestStream {
		return nil, ErrUnsupportedOperation
	}
	if !p.desc.responseStream {
		return nil, fmt.Errorf("method %s is unary, use Call", p.desc.name)
	}
	return p.client.openStream(ctx, p, request)
}

// record emits the processed counter and one timing sample. Exactly
// one of these pairs is produced per call, whatever the outcome.
func (p *methodProxy) record(ins *instruments, start time.Time, err error) {
	ctx := context.Background()
	opt := p.successOpt
	if err != nil {
		opt = p.errorOpt
	}
	ins.processed.Add(ctx, 1, opt)
	ins.timing.Record(ctx, durMs(time.Since(start)), p.baseOpt)
}
