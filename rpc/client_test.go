// Package rpc
package rpc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type fakeHandle struct {
	canceled atomic.Bool
}

func (h *fakeHandle) Cancel() {
	h.canceled.Store(true)
}

type openedStream struct {
	path    string
	handler StreamHandler
	handle  *fakeHandle
}

// fakeConn scripts the transport collaborator.
type fakeConn struct {
	lock sync.Mutex

	notReady atomic.Bool // WaitForReady blocks until ctx ends
	unary    func(ctx context.Context, path string, req []byte) ([]byte, error)

	invoked []string
	lastMD  Metadata
	streams []*openedStream
	closed  atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		unary: func(_ context.Context, _ string, req []byte) ([]byte, error) {
			return req, nil
		},
	}
}

func (f *fakeConn) WaitForReady(ctx context.Context) error {
	if f.notReady.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeConn) Invoke(ctx context.Context, path string, req []byte, md Metadata) ([]byte, error) {
	f.lock.Lock()
	f.invoked = append(f.invoked, path)
	f.lastMD = md
	f.lock.Unlock()
	return f.unary(ctx, path, req)
}

func (f *fakeConn) OpenStream(_ context.Context, path string, _ []byte, md Metadata, h StreamHandler) (StreamHandle, error) {
	s := &openedStream{path: path, handler: h, handle: &fakeHandle{}}
	f.lock.Lock()
	f.invoked = append(f.invoked, path)
	f.lastMD = md
	f.streams = append(f.streams, s)
	f.lock.Unlock()
	return s.handle, nil
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeConn) stream(i int) *openedStream {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.streams[i]
}

func testDefinition() Definition {
	return Definition{
		Service: "greeter",
		Methods: map[string]Method{
			"Echo": {Codec: CodecFor("json")},
			"Feed": {ResponseStream: true, Codec: CodecFor("json")},
			"Push": {RequestStream: true, Codec: CodecFor("json")},
		},
	}
}

func newTestClient(t *testing.T, conn ClientConn, options ...Option) (*Client, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()

	options = append([]Option{WithEndpoint("node-1:8443")}, options...)
	c, err := NewClient(testDefinition(), conn, options...)
	require.NoError(t, err)

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	c.Init(Component{
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
		MeterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		Propagator:     propagation.TraceContext{},
	})
	return c, recorder, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name, result string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if result != "" {
					v, ok := dp.Attributes.Value(attribute.Key("result"))
					if !ok || v.AsString() != result {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func timingSamples(t *testing.T, rm metricdata.ResourceMetrics) uint64 {
	t.Helper()
	var count uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != metricProcessingTime {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			for _, dp := range hist.DataPoints {
				count += dp.Count
			}
		}
	}
	return count
}

type echoBody struct {
	Value string `json:"value"`
}

func TestClientShapeMatchesDefinition(t *testing.T) {
	c, _, _ := newTestClient(t, newFakeConn())
	defer c.Close()

	require.ElementsMatch(t, []string{"Echo", "Feed", "Push"}, c.Methods())

	_, err := c.Proxy("Echo")
	require.NoError(t, err)
	_, err = c.Proxy("Missing")
	require.ErrorIs(t, err, ErrMethodNotFound)
}

func TestUnaryCallSuccess(t *testing.T) {
	conn := newFakeConn()
	conn.unary = func(_ context.Context, _ string, _ []byte) ([]byte, error) {
		return []byte(`{"value":"hello"}`), nil
	}
	c, recorder, reader := newTestClient(t, conn)
	defer c.Close()

	reply := &echoBody{}
	require.NoError(t, c.Call(context.Background(), "Echo", &echoBody{Value: "hi"}, reply))
	require.Equal(t, "hello", reply.Value)
	require.Equal(t, []string{"greeter.echo"}, conn.invoked)

	// trace context traveled in the call metadata
	require.Contains(t, conn.lastMD, "traceparent")

	rm := collect(t, reader)
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestSent, ""))
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestProcessed, "success"))
	require.EqualValues(t, 0, counterValue(t, rm, metricRequestProcessed, "error"))
	require.EqualValues(t, 1, timingSamples(t, rm))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "greeter.echo", spans[0].Name())
	require.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	require.Equal(t, otelcodes.Ok, spans[0].Status().Code)
}

func TestUnaryCallTransportError(t *testing.T) {
	boom := errors.New("unavailable")
	conn := newFakeConn()
	conn.unary = func(context.Context, string, []byte) ([]byte, error) {
		return nil, boom
	}
	c, recorder, reader := newTestClient(t, conn)
	defer c.Close()

	err := c.Call(context.Background(), "Echo", &echoBody{Value: "hi"}, &echoBody{})
	require.ErrorIs(t, err, boom)

	rm := collect(t, reader)
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestSent, ""))
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestProcessed, "error"))
	require.EqualValues(t, 1, timingSamples(t, rm))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, otelcodes.Error, spans[0].Status().Code)
}

func TestUnaryCallDeadline(t *testing.T) {
	conn := newFakeConn()
	conn.unary = func(ctx context.Context, _ string, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c, _, reader := newTestClient(t, conn, WithRequestTimeout(20*time.Millisecond))
	defer c.Close()

	start := time.Now()
	err := c.Call(context.Background(), "Echo", &echoBody{}, &echoBody{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)

	rm := collect(t, reader)
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestProcessed, "error"))
}

func TestRequestStreamUnsupported(t *testing.T) {
	conn := newFakeConn()
	c, _, _ := newTestClient(t, conn)
	defer c.Close()

	err := c.Call(context.Background(), "Push", &echoBody{}, &echoBody{})
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	_, err = c.Open(context.Background(), "Push", &echoBody{})
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	// rejected before the transport is touched
	require.Empty(t, conn.invoked)
	require.Empty(t, conn.streams)
}

func TestWrongShapeInvocation(t *testing.T) {
	conn := newFakeConn()
	c, _, _ := newTestClient(t, conn)
	defer c.Close()

	require.Error(t, c.Call(context.Background(), "Feed", &echoBody{}, &echoBody{}))
	_, err := c.Open(context.Background(), "Echo", &echoBody{})
	require.Error(t, err)
	require.Empty(t, conn.invoked)
}

func TestStreamingCall(t *testing.T) {
	conn := newFakeConn()
	c, recorder, reader := newTestClient(t, conn)
	defer c.Close()

	ctx := context.Background()
	s, err := c.Open(ctx, "Feed", &echoBody{Value: "start"})
	require.NoError(t, err)
	require.Equal(t, 1, c.pendingStreams())
	require.Contains(t, conn.lastMD, "traceparent")

	feed := conn.stream(0)
	feed.handler.OnData([]byte(`{"value":"1"}`))
	feed.handler.OnData([]byte(`{"value":"2"}`))
	feed.handler.OnData([]byte(`{"value":"3"}`))
	feed.handler.OnEnd()

	var got []string
	for {
		reply := &echoBody{}
		err = s.Recv(ctx, reply)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, reply.Value)
	}
	require.Equal(t, []string{"1", "2", "3"}, got)
	require.Equal(t, 0, c.pendingStreams())

	rm := collect(t, reader)
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestSent, ""))
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestProcessed, "success"))
	require.EqualValues(t, 1, timingSamples(t, rm))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "greeter.feed", spans[0].Name())
	require.Equal(t, otelcodes.Ok, spans[0].Status().Code)
}

func TestStreamingCallTransportError(t *testing.T) {
	boom := errors.New("stream broke")
	conn := newFakeConn()
	c, recorder, reader := newTestClient(t, conn)
	defer c.Close()

	ctx := context.Background()
	s, err := c.Open(ctx, "Feed", &echoBody{})
	require.NoError(t, err)

	feed := conn.stream(0)
	feed.handler.OnData([]byte(`{"value":"1"}`))
	feed.handler.OnError(boom)

	reply := &echoBody{}
	require.NoError(t, s.Recv(ctx, reply))
	require.Equal(t, "1", reply.Value)
	require.ErrorIs(t, s.Recv(ctx, reply), boom)

	rm := collect(t, reader)
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestProcessed, "error"))
	require.EqualValues(t, 1, timingSamples(t, rm))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, otelcodes.Error, spans[0].Status().Code)
}

func TestStreamingConsumerGone(t *testing.T) {
	conn := newFakeConn()
	c, _, reader := newTestClient(t, conn)
	defer c.Close()

	ctx := context.Background()
	s, err := c.Open(ctx, "Feed", &echoBody{})
	require.NoError(t, err)

	feed := conn.stream(0)
	feed.handler.OnData([]byte(`{"value":"1"}`))
	require.NoError(t, s.Close())

	// the transport side was told to stop, late pushes are dropped
	require.True(t, feed.handle.canceled.Load())
	feed.handler.OnData([]byte(`{"value":"2"}`))
	feed.handler.OnEnd()

	require.Equal(t, 0, c.pendingStreams())

	rm := collect(t, reader)
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestProcessed, ""))
	require.EqualValues(t, 1, timingSamples(t, rm))
}

func TestCloseCancelsPendingStreams(t *testing.T) {
	conn := newFakeConn()
	c, _, _ := newTestClient(t, conn)

	ctx := context.Background()
	s1, err := c.Open(ctx, "Feed", &echoBody{})
	require.NoError(t, err)
	s2, err := c.Open(ctx, "Feed", &echoBody{})
	require.NoError(t, err)
	require.Equal(t, 2, c.pendingStreams())

	// a consumer blocked in Recv must be released by Close
	released := make(chan error, 1)
	go func() {
		released <- s1.Recv(ctx, &echoBody{})
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, c.Close())

	select {
	case err := <-released:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked consumer not released by Close")
	}

	require.ErrorIs(t, s2.Recv(ctx, &echoBody{}), ErrClosed)
	require.True(t, conn.stream(0).handle.canceled.Load())
	require.True(t, conn.stream(1).handle.canceled.Load())
	require.True(t, conn.closed.Load())
	require.Equal(t, 0, c.pendingStreams())
}

func TestCloseWithoutStreams(t *testing.T) {
	conn := newFakeConn()
	c, _, _ := newTestClient(t, conn)

	require.NoError(t, c.Close())
	require.True(t, conn.closed.Load())

	// idempotent enough: a second Close is a no-op
	require.NoError(t, c.Close())

	require.ErrorIs(t, c.Call(context.Background(), "Echo", &echoBody{}, &echoBody{}), ErrClosed)
	_, err := c.Open(context.Background(), "Feed", &echoBody{})
	require.ErrorIs(t, err, ErrClosed)
}

func TestReadinessTimeout(t *testing.T) {
	conn := newFakeConn()
	conn.notReady.Store(true)
	c, recorder, reader := newTestClient(t, conn, WithConnectTimeout(10*time.Millisecond))
	defer c.Close()

	start := time.Now()
	err := c.Call(context.Background(), "Echo", &echoBody{}, &echoBody{})
	elapsed := time.Since(start)

	var timeoutErr *ConnectionTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "node-1:8443", timeoutErr.Endpoint)
	require.Less(t, elapsed, 500*time.Millisecond)

	// the readiness failure still produced the full instrumentation
	rm := collect(t, reader)
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestSent, ""))
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestProcessed, "error"))
	require.EqualValues(t, 1, timingSamples(t, rm))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, otelcodes.Error, spans[0].Status().Code)

	// the client stays usable: readiness is retried on the next call
	conn.notReady.Store(false)
	require.Eventually(t, func() bool {
		return c.Call(context.Background(), "Echo", &echoBody{}, &echoBody{}) == nil
	}, time.Second, 20*time.Millisecond)
}

func TestInitReplacesInstruments(t *testing.T) {
	conn := newFakeConn()
	c, err := NewClient(testDefinition(), conn, WithEndpoint("node-1:8443"))
	require.NoError(t, err)
	defer c.Close()

	// call before Init goes to the default (global) backends
	require.NoError(t, c.Call(context.Background(), "Echo", &echoBody{}, &echoBody{}))

	reader := sdkmetric.NewManualReader()
	c.Init(Component{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		Propagator:    propagation.TraceContext{},
	})

	require.NoError(t, c.Call(context.Background(), "Echo", &echoBody{}, &echoBody{}))

	// only the post-Init call lands in the supplied meter
	rm := collect(t, reader)
	require.EqualValues(t, 1, counterValue(t, rm, metricRequestSent, ""))
}
