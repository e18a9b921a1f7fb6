// Package browser owns the shared headless browser: launching it for the
// host environment, probing it, relaunching it after a crash and handing out
// isolated tabs.
package browser

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/weblogin-harvester/internal/apperr"
	"github.com/xkilldash9x/weblogin-harvester/internal/config"
	"github.com/xkilldash9x/weblogin-harvester/internal/observability"
)

const (
	launchKey            = "browser"
	defaultLaunchTimeout = 30 * time.Second
)

type launchFunc func(ctx context.Context, plan launchPlan) (*Session, error)

// Manager keeps at most one live browser Session and replaces it when it dies.
type Manager struct {
	ctx    context.Context
	cfg    *config.Config
	logger *zap.Logger
	env    launchEnv
	launch launchFunc

	group singleflight.Group

	mu      sync.Mutex
	current *Session
}

// NewManager creates a Manager. Browser processes are children of ctx, so
// it should live as long as the application. Nothing is launched until the
// first Acquire.
func NewManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) *Manager {
	m := &Manager{
		ctx:    ctx,
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
		env:    hostEnv(),
	}
	m.launch = m.launchChrome
	return m
}

// Acquire returns the live session, launching a browser if there is none or
// the cached one fails its probe. Concurrent callers share one launch.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if s := m.cached(); s != nil {
		err := m.probe(ctx, s)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("Cached browser failed its probe; relaunching.", zap.String("browser_session", s.ID()), zap.Error(err))
		m.Invalidate(s)
	}

	ch := m.group.DoChan(launchKey, func() (interface{}, error) {
		if s := m.cached(); s != nil && m.probe(m.ctx, s) == nil {
			return s, nil
		}
		s, err := m.start()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		previous := m.current
		m.current = s
		m.mu.Unlock()
		if previous != nil && previous != s {
			go m.closeSession(previous)
		}
		observability.SetBrowserLive(true)
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WithTab runs fn on a new tab of the shared browser. When the run fails
// with a browser crash anywhere in its error chain the session is dropped,
// so the next Acquire launches a new browser. The run itself is not retried.
func (m *Manager) WithTab(ctx context.Context, fn func(ctx context.Context, tab *Tab) error) error {
	s, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	err = s.WithTab(ctx, fn)
	if err != nil && apperr.Has(err, apperr.KindBrowserCrash) {
		m.logger.Warn("Browser crashed during task; it will be relaunched.", zap.String("browser_session", s.ID()), zap.Error(err))
		m.Invalidate(s)
	}
	return err
}

// IsLive probes the cached session without launching anything.
func (m *Manager) IsLive(ctx context.Context) bool {
	s := m.cached()
	return s != nil && m.probe(ctx, s) == nil
}

// Invalidate drops s if it is still the cached session so the next Acquire
// launches a fresh browser.
func (m *Manager) Invalidate(s *Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.mu.Unlock()

	observability.SetBrowserLive(false)
	m.logger.Info("Browser session invalidated.", zap.String("browser_session", s.ID()))
	go m.closeSession(s)
}

// Shutdown closes the cached browser, if any. It can be called any number of
// times and never fails; close problems are only logged.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	m.logger.Info("Shutting down browser.", zap.String("browser_session", s.ID()))
	s.Close(ctx)
	observability.SetBrowserLive(false)
	return nil
}

func (m *Manager) cached() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) probe(ctx context.Context, s *Session) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Browser.ProbeTimeout)
	defer cancel()
	return s.ping(probeCtx)
}

func (m *Manager) closeSession(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Browser.CloseTimeout)
	defer cancel()
	s.Close(ctx)
}

// start launches a browser. A failure that looks like a crashed or wedged
// process is retried once with a brand new profile directory.
func (m *Manager) start() (*Session, error) {
	plan := newLaunchPlan(m.cfg.Browser, m.env)
	m.logger.Info("Launching browser.",
		zap.Bool("serverless", plan.Serverless),
		zap.String("executable", execLabel(plan.ExecPath)),
		zap.String("profile_dir", plan.ProfileDir),
	)

	s, err := m.launch(m.ctx, plan)
	if err == nil {
		observability.ObserveBrowserLaunch("success")
		return s, nil
	}
	if !isCrash(err) {
		observability.ObserveBrowserLaunch("failure")
		return nil, apperr.Wrap(apperr.KindBrowserLaunch, "browser.launch", err, "failed to launch browser")
	}

	retry := plan.withProfile(filepath.Join(m.env.tempDir, "harvester-profile-"+uuid.NewString()))
	m.logger.Warn("Browser launch crashed; retrying with a fresh profile.",
		zap.String("profile_dir", retry.ProfileDir),
		zap.Error(err),
	)
	s, err = m.launch(m.ctx, retry)
	if err != nil {
		observability.ObserveBrowserLaunch("failure")
		return nil, apperr.Wrap(apperr.KindBrowserLaunch, "browser.launch", err, "failed to launch browser after retry")
	}
	observability.ObserveBrowserLaunch("retried")
	return s, nil
}

// launchChrome starts a browser process for plan and waits until its
// DevTools connection is up or the launch timeout passes.
func (m *Manager) launchChrome(ctx context.Context, plan launchPlan) (*Session, error) {
	id := uuid.NewString()
	logger := m.logger.With(zap.String("browser_session", id))

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, plan.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(logger.Sugar().Errorf),
	)
	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	timeout := plan.Timeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-started:
		if err != nil {
			cancel()
			return nil, err
		}
	case <-timer.C:
		cancel()
		<-started
		return nil, fmt.Errorf("browser did not start within %s", timeout)
	case <-ctx.Done():
		cancel()
		<-started
		return nil, ctx.Err()
	}

	logger.Info("Browser launched.")
	return newSession(id, plan.ProfileDir, browserCtx, cancel, newTabSettings(m.cfg), m.logger), nil
}

func execLabel(path string) string {
	if path == "" {
		return "(auto-detected)"
	}
	return path
}
