package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/weblogin-harvester/internal/apperr"
	"github.com/xkilldash9x/weblogin-harvester/internal/browser/stealth"
	"github.com/xkilldash9x/weblogin-harvester/internal/config"
)

// tabSettings are applied to every tab a Session opens.
type tabSettings struct {
	typingDelay  time.Duration
	idleQuiet    time.Duration
	closeTimeout time.Duration
	// persona runs once per tab before the first navigation; nil when stealth is off.
	persona chromedp.Tasks
}

func newTabSettings(cfg *config.Config) tabSettings {
	ts := tabSettings{
		typingDelay:  cfg.Timing.TypingDelay,
		idleQuiet:    500 * time.Millisecond,
		closeTimeout: cfg.Browser.CloseTimeout,
	}
	if cfg.Browser.Stealth {
		ts.persona = stealth.Apply(stealth.FromConfig(cfg.Browser))
	}
	return ts
}

// Session is one running browser process shared by every task.
type Session struct {
	id         string
	profileDir string
	logger     *zap.Logger
	tabs       tabSettings

	browserCtx context.Context
	cancel     context.CancelFunc

	ping      func(ctx context.Context) error
	openTab   func(ctx context.Context, fn func(ctx context.Context, tab *Tab) error) error
	closeOnce sync.Once
}

func newSession(id, profileDir string, browserCtx context.Context, cancel context.CancelFunc, tabs tabSettings, logger *zap.Logger) *Session {
	s := &Session{
		id:         id,
		profileDir: profileDir,
		logger:     logger.With(zap.String("browser_session", id)),
		tabs:       tabs,
		browserCtx: browserCtx,
		cancel:     cancel,
	}
	s.ping = s.versionProbe
	s.openTab = s.runInNewContext
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// ProfileDir is the user data directory the browser was started with, empty
// when chromedp picked a temporary one.
func (s *Session) ProfileDir() string { return s.profileDir }

// versionProbe makes a Browser.getVersion round trip over the connection.
func (s *Session) versionProbe(ctx context.Context) error {
	if err := s.browserCtx.Err(); err != nil {
		return fmt.Errorf("browser context ended: %w", err)
	}
	c := chromedp.FromContext(s.browserCtx)
	if c == nil || c.Browser == nil {
		return errors.New("browser connection not established")
	}
	_, product, _, _, _, err := cdpbrowser.GetVersion().Do(cdp.WithExecutor(ctx, c.Browser))
	if err != nil {
		return err
	}
	s.logger.Debug("Browser responded to probe.", zap.String("product", product))
	return nil
}

// Close stops the browser process. Errors are logged, never returned, and
// repeated calls are no-ops.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		if s.browserCtx != nil {
			done := make(chan error, 1)
			go func() { done <- chromedp.Cancel(s.browserCtx) }()
			select {
			case err := <-done:
				if err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Debug("Browser close reported an error.", zap.Error(err))
				}
			case <-ctx.Done():
				s.logger.Warn("Timed out closing browser; killing the process.", zap.Error(ctx.Err()))
			}
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.logger.Info("Browser session closed.")
	})
}

// WithTab opens a tab in a fresh isolated browser context, runs fn on it and
// closes both the tab and the context on every exit path.
func (s *Session) WithTab(ctx context.Context, fn func(ctx context.Context, tab *Tab) error) error {
	return s.openTab(ctx, fn)
}

func (s *Session) runInNewContext(ctx context.Context, fn func(ctx context.Context, tab *Tab) error) error {
	if s.browserCtx == nil {
		return apperr.New(apperr.KindBrowserCrash, "browser.tab", "session has no browser")
	}
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx, chromedp.WithNewBrowserContext())
	defer s.closeTab(tabCtx, cancelTab)

	idle := newIdleTracker()

	// The first Run creates the target and binds it to tabCtx, so it must not
	// run on a context that ends before the tab does.
	opened := make(chan error, 1)
	go func() {
		opened <- chromedp.Run(tabCtx, network.Enable(), s.tabs.persona, chromedp.ActionFunc(func(ctx context.Context) error {
			idle.listen(tabCtx)
			return nil
		}))
	}()
	select {
	case err := <-opened:
		if err != nil {
			if isCrash(err) || s.browserCtx.Err() != nil {
				return apperr.Wrap(apperr.KindBrowserCrash, "browser.tab", err, "failed to open tab")
			}
			return fmt.Errorf("failed to open tab: %w", err)
		}
	case <-ctx.Done():
		cancelTab()
		<-opened
		return ctx.Err()
	}

	tab := &Tab{ctx: tabCtx, logger: s.logger.Named("tab"), settings: s.tabs, idle: idle}
	return fn(ctx, tab)
}

func (s *Session) closeTab(tabCtx context.Context, cancel context.CancelFunc) {
	defer cancel()
	if s.browserCtx.Err() != nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(tabCtx) }()
	timer := time.NewTimer(s.tabs.closeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("Tab close reported an error.", zap.Error(err))
		}
	case <-timer.C:
		s.logger.Warn("Timed out closing tab.")
	}
}
