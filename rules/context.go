//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// HandlerContext reports detached contexts inside HTTP handlers. Handlers
// must pass ctx.Request().Context() so client disconnects and the write
// timeout reach the datastore and upstream calls.
func HandlerContext(m dsl.Matcher) {
	m.Match(
		`context.Background()`,
		`context.TODO()`,
	).
		Where(m.File().PkgPath.Matches(`/internal/api/v1$`)).
		Report("use ctx.Request().Context() in handlers")
}

// WithoutCancelNeedsTimeout reports context.WithoutCancel used directly as a
// call argument. A context that outlives its request must get its own
// deadline.
func WithoutCancelNeedsTimeout(m dsl.Matcher) {
	m.Match(`$fn(context.WithoutCancel($ctx), $*args)`).
		Where(!m["fn"].Text.Matches(`^context\.With(Timeout|Deadline)$`)).
		Report("wrap context.WithoutCancel($ctx) in context.WithTimeout")
}
