package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/apperr"
)

// Tab drives one page through chromedp. Every method bounds its work by
// both the tab's lifetime and the ctx it is given.
type Tab struct {
	ctx      context.Context
	logger   *zap.Logger
	settings tabSettings
	idle     *idleTracker
}

// run executes actions on the tab. When ctx ended, its error is returned as
// is so callers can tell a timeout from a failure.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if t.ctx.Err() != nil || isCrash(err) {
		return apperr.Wrap(apperr.KindBrowserCrash, "browser.tab", err, "browser connection lost")
	}
	return err
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	loaded := make(chan struct{})
	listenCtx, stopListening := context.WithCancel(t.ctx)
	defer stopListening()
	var once sync.Once
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventDomContentEventFired); ok {
			once.Do(func() { close(loaded) })
		}
	})

	sameDocument := false
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return fmt.Errorf("page load error %s", res.ErrorText)
		}
		sameDocument = res.LoaderID == ""
		return nil
	}))
	if err != nil || sameDocument {
		return err
	}

	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return apperr.New(apperr.KindBrowserCrash, "browser.tab", "tab closed during navigation")
	}
}

func (t *Tab) ExpectNavigation(ctx context.Context) func(context.Context) error {
	loaded := make(chan struct{})
	listenCtx, stopListening := context.WithCancel(t.ctx)
	context.AfterFunc(ctx, stopListening)
	var once sync.Once
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			once.Do(func() { close(loaded) })
		}
	})

	return func(waitCtx context.Context) error {
		select {
		case <-loaded:
			return nil
		case <-waitCtx.Done():
			return waitCtx.Err()
		case <-listenCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperr.New(apperr.KindBrowserCrash, "browser.tab", "tab closed while waiting for navigation")
		}
	}
}

func (t *Tab) WaitVisible(ctx context.Context, selector string) error {
	return t.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (t *Tab) WaitHidden(ctx context.Context, selector string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, 2)
	go func() { results <- t.run(ctx, chromedp.WaitNotPresent(selector, chromedp.ByQuery)) }()
	go func() { results <- t.run(ctx, chromedp.WaitNotVisible(selector, chromedp.ByQuery)) }()

	first := <-results
	if first == nil {
		return nil
	}
	if second := <-results; second == nil {
		return nil
	}
	return first
}

func (t *Tab) Exists(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var found bool
	err = t.run(ctx, chromedp.Evaluate(fmt.Sprintf("document.querySelector(%s) !== null", quoted), &found))
	return found, err
}

func (t *Tab) Click(ctx context.Context, selector string) error {
	return t.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// ClearAndType selects the field's current content, deletes it and types
// text one key at a time with the configured delay between keys.
func (t *Tab) ClearAndType(ctx context.Context, selector, text string) error {
	var nodes []*cdp.Node
	if err := t.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no node matches %q", selector)
	}

	actions := chromedp.Tasks{
		chromedp.MouseClickNode(nodes[0], chromedp.ClickCount(3)),
		chromedp.KeyEvent(kb.Backspace),
	}
	for _, r := range text {
		actions = append(actions, chromedp.KeyEvent(string(r)))
		if t.settings.typingDelay > 0 {
			actions = append(actions, chromedp.Sleep(t.settings.typingDelay))
		}
	}
	return t.run(ctx, actions)
}

func (t *Tab) WaitNetworkIdle(ctx context.Context) error {
	return t.idle.wait(ctx, t.settings.idleQuiet)
}

func (t *Tab) Location(ctx context.Context) (string, error) {
	var loc string
	err := t.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (t *Tab) DocumentCookie(ctx context.Context) (string, error) {
	var header string
	err := t.run(ctx, chromedp.Evaluate(`document.cookie`, &header))
	return header, err
}

// ContextCookies reads the jar of the default browser context and of every
// other context the browser knows about.
func (t *Tab) ContextCookies(ctx context.Context) ([][]schemas.RawCookie, error) {
	var jars [][]schemas.RawCookie
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		browserCtx := cdp.WithExecutor(ctx, c.Browser)

		var contexts target.GetBrowserContextsReturns
		if err := cdp.Execute(browserCtx, target.CommandGetBrowserContexts, nil, &contexts); err != nil {
			return err
		}

		ids := append([]cdp.BrowserContextID{""}, contexts.BrowserContextIDs...)
		var errs []error
		for _, id := range ids {
			params := storage.GetCookies()
			if id != "" {
				params = params.WithBrowserContextID(id)
			}
			cookies, err := params.Do(browserCtx)
			if err != nil {
				errs = append(errs, fmt.Errorf("context %q: %w", id, err))
				continue
			}
			jars = append(jars, convertCookies(cookies))
		}
		if len(jars) == 0 {
			return errors.Join(errs...)
		}
		return nil
	}))
	return jars, err
}

// PageCookies reads the cookies visible to every page open in this tab's
// browser context. Network.getCookies answers from the caller's own context,
// so pages of other contexts are covered by ContextCookies instead.
func (t *Tab) PageCookies(ctx context.Context) ([][]schemas.RawCookie, error) {
	var jars [][]schemas.RawCookie
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		infos, err := target.GetTargets().Do(cdp.WithExecutor(ctx, c.Browser))
		if err != nil {
			return err
		}
		for _, info := range infos {
			if info.Type != "page" || info.BrowserContextID != c.BrowserContextID || info.URL == "" {
				continue
			}
			cookies, err := network.GetCookies().WithUrls([]string{info.URL}).Do(ctx)
			if err != nil {
				t.logger.Debug("Could not read cookies for page.", zap.String("url", info.URL), zap.Error(err))
				continue
			}
			jars = append(jars, convertCookies(cookies))
		}
		return nil
	}))
	return jars, err
}

// SetCookie installs record in this tab's browser context. Host-only records
// are scoped by URL, the rest by domain.
func (t *Tab) SetCookie(ctx context.Context, record schemas.CookieRecord) error {
	params := network.SetCookie(record.Name, record.Value).
		WithPath(record.Path).
		WithSecure(record.Secure).
		WithHTTPOnly(record.HTTPOnly)
	if record.HostOnly && record.URL != "" {
		params = params.WithURL(record.URL)
	} else {
		params = params.WithDomain(record.Domain)
	}
	switch record.SameSite {
	case schemas.SameSiteStrict:
		params = params.WithSameSite(network.CookieSameSiteStrict)
	case schemas.SameSiteLax:
		params = params.WithSameSite(network.CookieSameSiteLax)
	case schemas.SameSiteNone:
		params = params.WithSameSite(network.CookieSameSiteNone)
	}
	if !record.Session && record.ExpirationDate != nil {
		sec, frac := math.Modf(*record.ExpirationDate)
		expires := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*float64(time.Second))))
		params = params.WithExpires(&expires)
	}
	return t.run(ctx, params)
}

func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := t.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func convertCookies(in []*network.Cookie) []schemas.RawCookie {
	out := make([]schemas.RawCookie, 0, len(in))
	for _, c := range in {
		raw := schemas.RawCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
			Priority: string(c.Priority),
		}
		if !c.Session {
			expires := c.Expires
			raw.Expires = &expires
		}
		out = append(out, raw)
	}
	return out
}
