// Package login drives a target site's email/password login flow in a browser
// tab and turns the resulting cookies into portable records.
package login

import (
	"context"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
)

// Page is the browser tab a login run owns. Every blocking method returns
// when ctx ends; callers bound each wait with their own deadline.
type Page interface {
	// Navigate loads url and returns once the document is interactive.
	Navigate(ctx context.Context, url string) error
	// ExpectNavigation arms a listener for the next main-frame load. The
	// returned wait blocks until that load completes or its context ends.
	// It must be armed before the action that triggers the navigation.
	ExpectNavigation(ctx context.Context) (wait func(context.Context) error)
	WaitVisible(ctx context.Context, selector string) error
	// WaitHidden returns once no element matches selector or the match is not visible.
	WaitHidden(ctx context.Context, selector string) error
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	// ClearAndType replaces the field's value by typing text one key at a time.
	ClearAndType(ctx context.Context, selector, text string) error
	WaitNetworkIdle(ctx context.Context) error
	Location(ctx context.Context) (string, error)

	// DocumentCookie returns document.cookie of the current document.
	DocumentCookie(ctx context.Context) (string, error)
	// ContextCookies returns the cookie jar of every browser context, one slice per context.
	ContextCookies(ctx context.Context) ([][]schemas.RawCookie, error)
	// PageCookies returns the cookies visible to each open page of this tab's browser context.
	PageCookies(ctx context.Context) ([][]schemas.RawCookie, error)
	SetCookie(ctx context.Context, cookie schemas.CookieRecord) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// PageOpener hands out disposable pages. The page is closed when fn returns.
type PageOpener interface {
	WithPage(ctx context.Context, fn func(ctx context.Context, page Page) error) error
}
