package httpserver

import (
	"net/http"

	"voicechat/internal/http/middleware"
)

// RouterDeps collects handler dependencies. The credits and audio-relay
// handlers dispatch on HTTP method themselves because their paths carry
// several verbs.
type RouterDeps struct {
	Signup     http.HandlerFunc
	Login      http.HandlerFunc
	Credits    http.Handler
	AudioRelay http.Handler
	Events     http.HandlerFunc
	Health     http.HandlerFunc
}

// NewRouter wires all HTTP routes.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.Health))

	mux.Handle("/auth/signup", method(http.MethodPost, deps.Signup))
	mux.Handle("/auth/login", method(http.MethodPost, deps.Login))

	authenticated := func(handler http.Handler) http.Handler {
		return middleware.Chain(handler, authMiddleware)
	}

	mux.Handle("/credits", authenticated(deps.Credits))
	mux.Handle("/audio-relay", authenticated(deps.AudioRelay))
	mux.Handle("/ws/events", authenticated(method(http.MethodGet, deps.Events)))

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
