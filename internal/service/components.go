// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/weblogin-harvester/internal/browser"
	"github.com/xkilldash9x/weblogin-harvester/internal/config"
)

// Components holds the long-lived services shared by every command.
type Components struct {
	Browser   *browser.Manager
	Harvester *Harvester

	logger *zap.Logger
}

// NewComponents wires the browser manager and the harvester. Browser
// processes are children of ctx, which should outlive every request.
func NewComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) *Components {
	manager := browser.NewManager(ctx, cfg, logger)
	return &Components{
		Browser:   manager,
		Harvester: New(cfg, NewBrowserPages(manager, logger), logger),
		logger:    logger,
	}
}

// Shutdown closes the shared browser. It uses its own deadline so it still
// completes after the application context was cancelled.
func (c *Components) Shutdown() {
	c.logger.Debug("Beginning components shutdown sequence.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Harvester.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("Error during browser shutdown.", zap.Error(err))
		return
	}
	c.logger.Info("All components shut down successfully.")
}
