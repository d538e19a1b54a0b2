package engine

import "context"

type callTokenKey struct{}

// WithCallToken stamps a guest call's context with its call token. The
// call guard mints one token per guest entry and threads it through the
// engine into every host call the guest makes.
func WithCallToken(ctx context.Context, token uint64) context.Context {
	return context.WithValue(ctx, callTokenKey{}, token)
}

// CallTokenFrom extracts the call token stamped by WithCallToken.
func CallTokenFrom(ctx context.Context) (uint64, bool) {
	token, ok := ctx.Value(callTokenKey{}).(uint64)
	return token, ok
}
