package driver

import (
	"context"
	"time"
)

// CallOption modifies a single call.
type CallOption func(*callConfig)

type callConfig struct {
	timeout     time.Duration
	ignore      Kind
	ignoreAlert bool
	noWait      bool
}

// Timeout sets the reply timeout of the call.
func Timeout(d time.Duration) CallOption {
	return func(c *callConfig) {
		c.timeout = d
	}
}

// Ignore swallows errors of the kinds in mask; the call then returns an
// empty result and a nil error.
func Ignore(mask Kind) CallOption {
	return func(c *callConfig) {
		c.ignore |= mask
	}
}

// IgnoreAlert lets an Input or Runtime call through while a dialog is open.
func IgnoreAlert() CallOption {
	return func(c *callConfig) {
		c.ignoreAlert = true
	}
}

// NoWait sends the call without registering for its reply.
func NoWait() CallOption {
	return func(c *callConfig) {
		c.noWait = true
	}
}

type callOptionsKey struct{}

// WithCallOptions returns a context carrying call options, picked up by
// Execute and merged into Call.
func WithCallOptions(ctx context.Context, opts ...CallOption) context.Context {
	prev, _ := ctx.Value(callOptionsKey{}).([]CallOption)
	all := make([]CallOption, 0, len(prev)+len(opts))
	all = append(all, prev...)
	all = append(all, opts...)
	return context.WithValue(ctx, callOptionsKey{}, all)
}

func callConfigFrom(ctx context.Context, opts []CallOption) callConfig {
	var cfg callConfig
	if ctxOpts, ok := ctx.Value(callOptionsKey{}).([]CallOption); ok {
		for _, o := range ctxOpts {
			o(&cfg)
		}
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}
