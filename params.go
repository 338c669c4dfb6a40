package goflow

import (
	"context"
	"fmt"
	"maps"

	"github.com/mitchellh/mapstructure"
)

// Params configures a single node or a single batch iteration. Unlike
// Shared it is not a communication channel: nodes receive a private copy
// for each cycle.
type Params map[string]any

// Lookup implements Getter.
func (p Params) Lookup(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

// Clone returns a shallow copy; a nil receiver yields an empty map.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// Merge overlays the given layers on a copy of p. Later layers replace
// keys of earlier ones; p itself is left untouched.
func (p Params) Merge(layers ...Params) Params {
	out := p.Clone()
	for _, layer := range layers {
		maps.Copy(out, layer)
	}
	return out
}

// Decode copies params into the struct pointed to by out, matching keys to
// `mapstructure` tags. Values are not coerced: a string will not decode
// into an int field.
func (p Params) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: false,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(p)); err != nil {
		return fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	return nil
}

// Param reads a typed value from the params attached to ctx.
func Param[T any](ctx context.Context, key string) (T, error) {
	return Get[T](ctxParams{ctx}, key)
}

type ctxParams struct{ ctx context.Context }

func (c ctxParams) Lookup(key string) (any, bool) {
	return lookupParam(c.ctx, key)
}

type paramsKey struct{}

// WithParams attaches run-scoped params to ctx. The map is copied so later
// writes by the caller are not observed by running nodes.
func WithParams(ctx context.Context, params Params) context.Context {
	return context.WithValue(ctx, paramsKey{}, params.Clone())
}

// ParamsFrom returns a copy of the params attached to ctx, or an empty set.
func ParamsFrom(ctx context.Context) Params {
	if ctx == nil {
		return Params{}
	}
	if p, ok := ctx.Value(paramsKey{}).(Params); ok {
		return p.Clone()
	}
	return Params{}
}

// lookupParam reads one param without copying the whole set.
func lookupParam(ctx context.Context, key string) (any, bool) {
	if ctx == nil {
		return nil, false
	}
	p, _ := ctx.Value(paramsKey{}).(Params)
	return p.Lookup(key)
}
