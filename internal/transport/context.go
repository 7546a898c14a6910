package transport

import (
	"context"

	"github.com/pitabwire/hibah/model"
)

type ctxKey int

const (
	keyCorrelationID ctxKey = iota
	keyClaims
	keyToken
	keyCapabilities
)

// CorrelationIDFrom returns the correlation id assigned by RequestID.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(keyCorrelationID).(string)
	return id
}

// WithClaims stores verified JWT claims in ctx.
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFrom returns the verified JWT claims, or nil.
func ClaimsFrom(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(keyClaims).(map[string]any)
	return claims
}

func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, keyToken, token)
}

func tokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(keyToken).(string)
	return tok
}

// WithCapabilities stores the resolved capabilities in ctx.
func WithCapabilities(ctx context.Context, caps model.CapabilitySet) context.Context {
	return context.WithValue(ctx, keyCapabilities, caps)
}

// CapabilitiesFrom returns the resolved capabilities. A nil set grants
// nothing.
func CapabilitiesFrom(ctx context.Context) model.CapabilitySet {
	caps, _ := ctx.Value(keyCapabilities).(model.CapabilitySet)
	return caps
}
