package kit

import "context"

// Request describes the caller of an endpoint.
type Request struct {
	Transport  string // "http" or "mcp"
	ID         string
	RemoteAddr string
}

type requestKey struct{}

// WithRequest attaches r to ctx.
func WithRequest(ctx context.Context, r Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// RequestFrom returns the request attached to ctx. Transport defaults to
// "http".
func RequestFrom(ctx context.Context) Request {
	r, _ := ctx.Value(requestKey{}).(Request)
	if r.Transport == "" {
		r.Transport = "http"
	}
	return r
}
