// Package invocation carries the caller identity of a linkdrop call through
// the request context.
package invocation

import (
	"context"

	"linkdrop/pkg/keys"
	"linkdrop/pkg/units"
)

type invocationKey struct{}

// Invocation describes who is calling. Predecessor is the account that
// issued the call, Signer the public key that signed it (zero when the call
// was not key-signed) and Attached the value sent with the call.
type Invocation struct {
	Predecessor string
	Signer      keys.PublicKey
	Attached    units.Balance
}

func WithContext(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// FromContext returns the invocation stored in ctx, or the zero value.
func FromContext(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
