package jobs

import (
	"context"
	"time"
)

type softDeadlineKey struct{}

// WithSoftDeadline attaches the soft time limit to a job context.
// Handlers that can stop early read it with SoftDeadline and return
// partial output instead of running into the hard limit.
func WithSoftDeadline(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, softDeadlineKey{}, t)
}

// SoftDeadline reports the soft limit attached to ctx, if any.
func SoftDeadline(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(softDeadlineKey{}).(time.Time)
	return t, ok
}
