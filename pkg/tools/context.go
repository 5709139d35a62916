package tools

import "context"

type idempotencyKey struct{}

// WithIdempotencyKey attaches the key tools should use to deduplicate side
// effects of a retried call.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}
