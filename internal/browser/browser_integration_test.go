// internal/browser/browser_integration_test.go
package browser

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/config"
)

const defaultBrowserTestTimeout = 90 * time.Second

// loginSite is a minimal two-step login flow served over httptest.
type loginSite struct {
	*httptest.Server

	mu     sync.Mutex
	posted url.Values
}

func newLoginSite(t *testing.T) *loginSite {
	t.Helper()
	site := &loginSite{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "visitor", Value: "1", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/login">Log in</a></body></html>`))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>
<form method="POST" action="/session">
  <input type="email" name="email">
  <input type="password" name="password">
  <button type="submit">Sign in</button>
</form></body></html>`))
	})
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		site.mu.Lock()
		site.posted = r.PostForm
		site.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/", HttpOnly: true, Expires: time.Now().Add(time.Hour)})
		http.Redirect(w, r, "/home", http.StatusSeeOther)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><div data-testid="user-menu">me</div></body></html>`))
	})
	site.Server = httptest.NewServer(mux)
	t.Cleanup(site.Close)
	return site
}

func (s *loginSite) form() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posted
}

// newBrowserManager starts a Manager against the host's browser, skipping
// the test when none is installed.
func newBrowserManager(t *testing.T) (*Manager, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser integration test skipped in -short mode")
	}
	cfg := config.NewDefaultConfig()
	cfg.Timing.TypingDelay = 0
	if plan := newLaunchPlan(cfg.Browser, hostEnv()); plan.ExecPath == "" {
		t.Skip("no Chrome/Chromium executable found")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultBrowserTestTimeout)
	mgr := NewManager(ctx, cfg, zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		mgr.Shutdown(shutdownCtx)
		cancel()
	})
	return mgr, ctx
}

func cookieNames(jars [][]schemas.RawCookie) []string {
	var names []string
	for _, jar := range jars {
		for _, c := range jar {
			names = append(names, c.Name)
		}
	}
	return names
}

func TestTab_LoginFlow(t *testing.T) {
	mgr, ctx := newBrowserManager(t)
	site := newLoginSite(t)

	sess, err := mgr.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, mgr.IsLive(ctx))

	err = sess.WithTab(ctx, func(ctx context.Context, tab *Tab) error {
		require.NoError(t, tab.Navigate(ctx, site.URL))
		require.NoError(t, tab.WaitVisible(ctx, `a[href="/login"]`))
		present, err := tab.Exists(ctx, `a[href="/login"]`)
		require.NoError(t, err)
		assert.True(t, present)

		wait := tab.ExpectNavigation(ctx)
		require.NoError(t, tab.Click(ctx, `a[href="/login"]`))
		require.NoError(t, wait(ctx))

		loc, err := tab.Location(ctx)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(loc, "/login"), loc)

		require.NoError(t, tab.ClearAndType(ctx, `input[type="email"]`, "user@example.com"))
		require.NoError(t, tab.ClearAndType(ctx, `input[type="password"]`, "s3cret"))

		wait = tab.ExpectNavigation(ctx)
		require.NoError(t, tab.Click(ctx, `button[type="submit"]`))
		require.NoError(t, wait(ctx))
		require.NoError(t, tab.WaitVisible(ctx, `[data-testid="user-menu"]`))
		require.NoError(t, tab.WaitHidden(ctx, `a[href="/login"]`))

		form := site.form()
		assert.Equal(t, "user@example.com", form.Get("email"))
		assert.Equal(t, "s3cret", form.Get("password"))

		jars, err := tab.ContextCookies(ctx)
		require.NoError(t, err)
		assert.Subset(t, cookieNames(jars), []string{"visitor", "sid"})

		pageJars, err := tab.PageCookies(ctx)
		require.NoError(t, err)
		assert.Subset(t, cookieNames(pageJars), []string{"visitor", "sid"})

		doc, err := tab.DocumentCookie(ctx)
		require.NoError(t, err)
		assert.Contains(t, doc, "visitor=1")
		assert.NotContains(t, doc, "sid=")

		require.NoError(t, tab.SetCookie(ctx, schemas.CookieRecord{
			Name: "extra", Value: "1", Domain: "127.0.0.1", Path: "/", HostOnly: true, Session: true, URL: site.URL,
		}))
		jars, err = tab.ContextCookies(ctx)
		require.NoError(t, err)
		assert.Contains(t, cookieNames(jars), "extra")

		shot, err := tab.Screenshot(ctx)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(shot, []byte("\x89PNG")))
		return nil
	})
	require.NoError(t, err)
}

func TestTab_WaitRespectsDeadline(t *testing.T) {
	mgr, ctx := newBrowserManager(t)
	site := newLoginSite(t)

	sess, err := mgr.Acquire(ctx)
	require.NoError(t, err)

	err = sess.WithTab(ctx, func(ctx context.Context, tab *Tab) error {
		require.NoError(t, tab.Navigate(ctx, site.URL))

		waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		defer cancel()
		err := tab.WaitVisible(waitCtx, "#never")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// The tab stays usable after a timed-out wait.
		present, err := tab.Exists(ctx, `a[href="/login"]`)
		require.NoError(t, err)
		assert.True(t, present)
		return nil
	})
	require.NoError(t, err)
}
