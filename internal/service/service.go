// File: internal/service/service.go
package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/apperr"
	"github.com/xkilldash9x/weblogin-harvester/internal/config"
	"github.com/xkilldash9x/weblogin-harvester/internal/login"
	"github.com/xkilldash9x/weblogin-harvester/internal/observability"
	"github.com/xkilldash9x/weblogin-harvester/internal/queue"
)

const (
	statusProbeTimeout = 2 * time.Second
	shutdownTimeout    = 30 * time.Second
)

// Pages hands out disposable pages on the shared browser.
type Pages interface {
	login.PageOpener
	Live(ctx context.Context) bool
	Shutdown(ctx context.Context) error
}

// Harvester runs login tasks through the queue and reports service status.
type Harvester struct {
	cfg     *config.Config
	logger  *zap.Logger
	pages   Pages
	queue   *queue.Queue
	machine *login.Machine
	started time.Time
}

// New wires a Harvester around pages. Queue depth is exported as metrics.
func New(cfg *config.Config, pages Pages, logger *zap.Logger) *Harvester {
	logger = logger.Named("service")
	return &Harvester{
		cfg:     cfg,
		logger:  logger,
		pages:   pages,
		queue:   queue.New(cfg.Queue.Concurrency, logger, queue.WithObserver(observability.SetQueueDepth)),
		machine: login.NewMachine(cfg, logger),
		started: time.Now(),
	}
}

// Queue exposes the task queue, mainly so its limit can be tuned at runtime.
func (h *Harvester) Queue() *queue.Queue { return h.queue }

// LoginToWeb logs in with the configured credentials, overridden field by
// field by override, and returns the harvested cookies. Missing credentials
// fail before the task is queued.
func (h *Harvester) LoginToWeb(ctx context.Context, override schemas.Credentials) ([]schemas.CookieRecord, error) {
	creds := h.cfg.Credentials().Merge(override)
	if missing := creds.Missing(); len(missing) > 0 {
		observability.ObserveLoginRun(apperr.KindConfiguration.String(), 0, 0)
		return nil, apperr.New(apperr.KindConfiguration, "service.login",
			"missing required configuration: "+strings.Join(missing, ", "))
	}

	start := time.Now()
	cookies, err := queue.Submit(ctx, h.queue, func(ctx context.Context) ([]schemas.CookieRecord, error) {
		var cookies []schemas.CookieRecord
		err := h.pages.WithPage(ctx, func(ctx context.Context, page login.Page) error {
			var err error
			cookies, err = h.machine.Run(ctx, page, h.pages, creds)
			return err
		})
		return cookies, err
	})
	elapsed := time.Since(start)

	if err != nil {
		observability.ObserveLoginRun(apperr.KindOf(err).String(), elapsed, 0)
		h.logger.Error("Web login failed.",
			zap.String("kind", apperr.KindOf(err).String()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}
	observability.ObserveLoginRun("success", elapsed, len(cookies))
	h.logger.Info("Web login succeeded.", zap.Int("cookies", len(cookies)), zap.Duration("elapsed", elapsed))
	return cookies, nil
}

// Status describes the configuration and browser state. It never fails.
func (h *Harvester) Status(ctx context.Context) schemas.StatusReport {
	creds := h.cfg.Credentials()
	missing := creds.Missing()
	if missing == nil {
		missing = []string{}
	}

	report := schemas.StatusReport{
		Environment: h.cfg.Environment,
		Timestamp:   time.Now().UTC(),
		Configuration: schemas.ConfigurationStatus{
			HasEmail:    strings.TrimSpace(creds.Email) != "",
			HasPassword: creds.Password != "",
			HasWebURL:   strings.TrimSpace(creds.WebURL) != "",
		},
		MissingConfiguration: missing,
		IsConfigured:         len(missing) == 0,
		Uptime:               time.Since(h.started).Seconds(),
	}
	if report.Configuration.HasWebURL {
		trimmed := strings.TrimRight(strings.TrimSpace(creds.WebURL), "/")
		report.Configuration.WebURL = &trimmed
	}

	probeCtx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()
	report.BrowserLive = h.pages.Live(probeCtx)
	return report
}

// Shutdown closes the shared browser.
func (h *Harvester) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return h.pages.Shutdown(ctx)
}
