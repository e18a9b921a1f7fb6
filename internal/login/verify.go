package login

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/observability"
)

// Verifier replays harvested cookies in a fresh page to see whether they
// authenticate. Its answer is informational and never fails a run.
type Verifier struct {
	logger            *zap.Logger
	loginButton       string
	indicators        Candidates
	navigationTimeout time.Duration
	settle            time.Duration
}

// NewVerifier creates a Verifier.
func NewVerifier(logger *zap.Logger, loginButton string, indicators Candidates, navigationTimeout, settle time.Duration) *Verifier {
	return &Verifier{
		logger:            logger.Named("verifier"),
		loginButton:       loginButton,
		indicators:        indicators,
		navigationTimeout: navigationTimeout,
		settle:            settle,
	}
}

// Verify applies cookies to a disposable page, loads targetURL and reports
// whether the page looks signed in: no login affordance, or any
// authenticated indicator present. Cookies the browser rejects are skipped.
// Every failure is logged and reported as false.
func (v *Verifier) Verify(ctx context.Context, opener PageOpener, cookies []schemas.CookieRecord, targetURL string) bool {
	var authenticated bool
	err := opener.WithPage(ctx, func(ctx context.Context, page Page) error {
		applied := 0
		for _, c := range cookies {
			if err := page.SetCookie(ctx, c); err != nil {
				v.logger.Debug("Skipping cookie the browser rejected.", zap.String("name", c.Name), zap.String("domain", c.Domain), zap.Error(err))
				continue
			}
			applied++
		}

		navCtx, cancel := context.WithTimeout(ctx, v.navigationTimeout)
		err := page.Navigate(navCtx, targetURL)
		cancel()
		if err != nil {
			return err
		}
		if err := pause(ctx, v.settle); err != nil {
			return err
		}

		affordance, err := page.Exists(ctx, v.loginButton)
		if err != nil {
			return err
		}
		indicator := false
		if len(v.indicators) > 0 {
			if indicator, err = page.Exists(ctx, v.indicators.Group()); err != nil {
				return err
			}
		}
		authenticated = !affordance || indicator
		v.logger.Info("Cookie verification finished.",
			zap.Int("applied", applied),
			zap.Int("total", len(cookies)),
			zap.Bool("login_affordance", affordance),
			zap.Bool("indicator", indicator),
			zap.Bool("authenticated", authenticated),
		)
		return nil
	})
	if err != nil {
		v.logger.Warn("Cookie verification could not complete.", zap.Error(err))
		authenticated = false
	}
	observability.ObserveVerification(authenticated)
	return authenticated
}
