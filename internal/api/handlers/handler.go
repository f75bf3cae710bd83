package handlers

import (
	"context"

	"github.com/leozw/sitestats/internal/fetcher"
	"github.com/leozw/sitestats/internal/session"
	"github.com/leozw/sitestats/internal/store"
	"go.uber.org/zap"
)

// Pinger is implemented by stores backed by an external service.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	session     *session.Session
	sites       store.SiteManager
	pinger      Pinger
	verifier    fetcher.Fetcher
	dashboard   func(domain string) string
	displayMode string
	logger      *zap.Logger
}

type Options struct {
	Session *session.Session
	Sites   store.SiteManager

	// Pinger is optional; without it the service is always ready.
	Pinger Pinger

	// Verifier serves the verify option of site writes; nil disables it.
	Verifier fetcher.Fetcher

	Dashboard   func(domain string) string
	DisplayMode string
	Logger      *zap.Logger
}

func NewHandler(opts Options) *Handler {
	return &Handler{
		session:     opts.Session,
		sites:       opts.Sites,
		pinger:      opts.Pinger,
		verifier:    opts.Verifier,
		dashboard:   opts.Dashboard,
		displayMode: opts.DisplayMode,
		logger:      opts.Logger,
	}
}
