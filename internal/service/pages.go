// File: internal/service/pages.go
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/weblogin-harvester/internal/browser"
	"github.com/xkilldash9x/weblogin-harvester/internal/login"
)

var _ login.Page = (*browser.Tab)(nil)

// BrowserPages opens pages as tabs of the browser kept by a browser.Manager.
type BrowserPages struct {
	manager *browser.Manager
	logger  *zap.Logger
}

// NewBrowserPages creates a BrowserPages.
func NewBrowserPages(manager *browser.Manager, logger *zap.Logger) *BrowserPages {
	return &BrowserPages{manager: manager, logger: logger.Named("pages")}
}

// WithPage runs fn on a new tab in its own browser context. A browser crash
// during the run makes the next call relaunch.
func (p *BrowserPages) WithPage(ctx context.Context, fn func(ctx context.Context, page login.Page) error) error {
	return p.manager.WithTab(ctx, func(ctx context.Context, tab *browser.Tab) error {
		return fn(ctx, tab)
	})
}

// Live reports whether the shared browser answers a probe.
func (p *BrowserPages) Live(ctx context.Context) bool {
	return p.manager.IsLive(ctx)
}

// Shutdown closes the shared browser.
func (p *BrowserPages) Shutdown(ctx context.Context) error {
	return p.manager.Shutdown(ctx)
}
