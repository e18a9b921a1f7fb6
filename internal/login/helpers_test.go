package login_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/config"
	"github.com/xkilldash9x/weblogin-harvester/internal/login"
)

// fakePage is an in-memory login.Page. Visibility is a set of selectors;
// clicks run scripted transitions. Waits that cannot be satisfied block until
// their context ends, like a real page would.
type fakePage struct {
	mu sync.Mutex

	visible     map[string]bool
	onClick     map[string]func(p *fakePage)
	clickErr    map[string]error
	navigations int
	navErr      error

	calls  []string
	typed  map[string]string
	probed []string

	contextCookies [][]schemas.RawCookie
	pageCookies    [][]schemas.RawCookie
	contextErr     error
	docCookie      string
	location       string

	rejectCookie map[string]bool
	applied      []schemas.CookieRecord
}

func newFakePage(visible ...string) *fakePage {
	p := &fakePage{
		visible:      map[string]bool{},
		onClick:      map[string]func(p *fakePage){},
		clickErr:     map[string]error{},
		typed:        map[string]string{},
		rejectCookie: map[string]bool{},
	}
	for _, s := range visible {
		p.visible[s] = true
	}
	return p
}

func (p *fakePage) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// isVisible accepts a selector group and reports whether any member is visible.
func (p *fakePage) isVisible(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range strings.Split(selector, ", ") {
		if p.visible[s] {
			return true
		}
	}
	return false
}

func (p *fakePage) Show(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		p.visible[s] = true
	}
}

func (p *fakePage) Hide(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		delete(p.visible, s)
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.record("navigate:" + url)
	if p.navErr != nil {
		return p.navErr
	}
	p.mu.Lock()
	p.location = url
	p.mu.Unlock()
	return ctx.Err()
}

func (p *fakePage) ExpectNavigation(ctx context.Context) func(context.Context) error {
	p.mu.Lock()
	armed := p.navigations
	p.mu.Unlock()
	return func(waitCtx context.Context) error {
		p.mu.Lock()
		done := p.navigations > armed
		p.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return waitCtx.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *fakePage) WaitVisible(ctx context.Context, selector string) error {
	p.mu.Lock()
	p.probed = append(p.probed, selector)
	p.mu.Unlock()
	if p.isVisible(selector) {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePage) WaitHidden(ctx context.Context, selector string) error {
	if !p.isVisible(selector) {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePage) Exists(ctx context.Context, selector string) (bool, error) {
	return p.isVisible(selector), ctx.Err()
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.record("click:" + selector)
	p.mu.Lock()
	clickErr := p.clickErr[selector]
	p.mu.Unlock()
	if clickErr != nil {
		return clickErr
	}
	if !p.isVisible(selector) {
		return fmt.Errorf("no node for %s", selector)
	}
	p.mu.Lock()
	transition := p.onClick[selector]
	p.mu.Unlock()
	if transition != nil {
		transition(p)
	}
	return nil
}

func (p *fakePage) ClearAndType(ctx context.Context, selector, text string) error {
	p.record("type:" + selector)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed[selector] = text
	return nil
}

func (p *fakePage) WaitNetworkIdle(ctx context.Context) error { return nil }

func (p *fakePage) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, nil
}

func (p *fakePage) DocumentCookie(ctx context.Context) (string, error) {
	return p.docCookie, nil
}

func (p *fakePage) ContextCookies(ctx context.Context) ([][]schemas.RawCookie, error) {
	return p.contextCookies, p.contextErr
}

func (p *fakePage) PageCookies(ctx context.Context) ([][]schemas.RawCookie, error) {
	return p.pageCookies, nil
}

func (p *fakePage) SetCookie(ctx context.Context, c schemas.CookieRecord) error {
	if p.rejectCookie[c.Name] {
		return errors.New("invalid cookie fields")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, c)
	return nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG"), nil
}

// navigate marks that a main-frame navigation happened.
func (p *fakePage) navigate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations++
}

// fakeOpener hands out a single prepared page.
type fakeOpener struct {
	page   *fakePage
	err    error
	opened int
}

func (o *fakeOpener) WithPage(ctx context.Context, fn func(context.Context, login.Page) error) error {
	o.opened++
	if o.err != nil {
		return o.err
	}
	return fn(ctx, o.page)
}

func expires(v float64) *float64 { return &v }

// testConfig returns defaults with every wait shrunk so unsatisfiable waits end quickly.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Timing = config.TimingConfig{
		NavigationTimeout:         time.Second,
		LoginProbeTimeout:         30 * time.Millisecond,
		EmailTimeout:              30 * time.Millisecond,
		SelectorTimeout:           20 * time.Millisecond,
		SubmitSettle:              5 * time.Millisecond,
		EmailNavigationTimeout:    50 * time.Millisecond,
		PasswordNavigationTimeout: 50 * time.Millisecond,
		ConfirmationTimeout:       50 * time.Millisecond,
		AuthIndicatorWait:         20 * time.Millisecond,
		NetworkIdleTimeout:        20 * time.Millisecond,
	}
	return cfg
}

var testCreds = schemas.Credentials{
	Email:    "user@example.com",
	Password: "s3cret",
	WebURL:   "https://app.example.com/",
}
