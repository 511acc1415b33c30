// Package shield provides the HTTP hardening middleware of the boardwatch
// API: security headers, request body limits and HEAD handling.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack() {
//	    r.Use(mw)
//	}
package shield

import "net/http"

// DefaultMaxBody bounds JSON request bodies and relayed feed messages.
const DefaultMaxBody = 1 << 20

// APIStack returns the standard middleware stack of a JSON API, ordered
// HeadToGet → SecurityHeaders → MaxBody.
func APIStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(DefaultMaxBody),
	}
}
