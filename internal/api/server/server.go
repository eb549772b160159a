// Package server builds the HTTP server serving the transformation API.
package server

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
)

// Config holds the listen address and connection timeouts. Zero timeouts
// fall back to defaults suited to a polling API with small JSON bodies.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// New builds an http.Server for the router.
func New(cfg Config, router *ginext.Engine) *http.Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}
}
