package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with timeouts sized for the sync workload: the
// write timeout leaves headroom over the router's 30s request timeout so
// slow batch responses are cut by the handler, not the server.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
