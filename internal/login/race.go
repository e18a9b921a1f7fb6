package login

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// branch is one named condition under which a step counts as done.
type branch struct {
	name string
	wait func(ctx context.Context) error
}

// firstOf runs every branch concurrently and returns the name of the first
// one to succeed; the rest are cancelled. If all fail the errors are joined.
func firstOf(ctx context.Context, branches ...branch) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		name string
		err  error
	}
	results := make(chan outcome, len(branches))
	for _, b := range branches {
		go func(b branch) {
			results <- outcome{name: b.name, err: b.wait(ctx)}
		}(b)
	}

	var errs []error
	for range branches {
		r := <-results
		if r.err == nil {
			return r.name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
	}
	return "", errors.Join(errs...)
}

// navigation succeeds when the armed navigation completes within timeout.
func navigation(wait func(context.Context) error, timeout time.Duration) branch {
	return branch{name: "navigation", wait: func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return wait(ctx)
	}}
}

// settle succeeds after a fixed delay. It covers pages that swap content in
// place without a navigation event.
func settle(d time.Duration) branch {
	return branch{name: "settle-delay", wait: func(ctx context.Context) error {
		return pause(ctx, d)
	}}
}

// signedIn succeeds when the login affordance goes away or an authenticated
// indicator shows up, within timeout.
func signedIn(page Page, loginButton string, indicators Candidates, timeout time.Duration) branch {
	return branch{name: "authenticated-dom", wait: func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		signals := []branch{{name: "login-affordance-gone", wait: func(ctx context.Context) error {
			return page.WaitHidden(ctx, loginButton)
		}}}
		if len(indicators) > 0 {
			signals = append(signals, branch{name: "indicator-visible", wait: func(ctx context.Context) error {
				return page.WaitVisible(ctx, indicators.Group())
			}})
		}
		_, err := firstOf(ctx, signals...)
		return err
	}}
}

// pause sleeps for d or until ctx ends.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
