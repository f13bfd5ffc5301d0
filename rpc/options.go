// Package rpc
package rpc

import (
	"time"

	"go.opentelemetry.io/otel/propagation"
)

type Option = func(*Options)

type CredentialProvider = func() string

// WithEndpoint set the logical endpoint the client talks to. Used as
// the destination tag on spans and metrics.
func WithEndpoint(endpoint string) Option {
	return func(op *Options) {
		op.Endpoint = endpoint
	}
}

// WithConnectTimeout set the readiness wait deadline, independent of
// the per request timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(op *Options) {
		op.ConnectTimeout = d
	}
}

// WithRequestTimeout set the per unary-request deadline. Streaming
// calls carry no deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(op *Options) {
		op.RequestTimeout = d
	}
}

// WithPropagator set the trace context propagator used to inject span
// context into outgoing call metadata.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(op *Options) {
		op.Propagator = p
	}
}

// WithHost set the local host id announced while negotiating.
func WithHost(host string) Option {
	return func(op *Options) {
		op.Host = host
	}
}

// WithCredentialProvider set credential provider used when dialing.
func WithCredentialProvider(f CredentialProvider) Option {
	return func(op *Options) {
		op.CredentialProvider = f
	}
}

type Options struct {
	Endpoint           string
	ConnectTimeout     time.Duration
	RequestTimeout     time.Duration
	Propagator         propagation.TextMapPropagator
	Host               string
	CredentialProvider CredentialProvider
}

func (op *Options) Apply(options []Option) {
	for _, f := range options {
		f(op)
	}
}

func defaultOptions() *Options {
	return &Options{
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 5 * time.Second,
		Host:           "client",
	}
}
