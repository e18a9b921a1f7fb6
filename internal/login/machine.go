package login

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/apperr"
	"github.com/xkilldash9x/weblogin-harvester/internal/config"
)

// State is a step of the login flow.
type State string

const (
	StateNavigated            State = "navigated"
	StateAlreadyAuthenticated State = "already_authenticated"
	StateAwaitingEmail        State = "awaiting_email"
	StateAwaitingPassword     State = "awaiting_password"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateAuthenticated        State = "authenticated"
	StateFailed               State = "failed"
)

const screenshotTimeout = 10 * time.Second

// Machine runs the login flow against one page.
type Machine struct {
	logger    *zap.Logger
	selectors config.SelectorsConfig
	timing    config.TimingConfig

	indicators Candidates
	submit     Candidates
	password   Candidates

	harvester     *Harvester
	verifier      *Verifier
	verify        bool
	screenshotDir string
}

// NewMachine creates a Machine from the selector, timing and login settings of cfg.
func NewMachine(cfg *config.Config, logger *zap.Logger) *Machine {
	logger = logger.Named("login")
	sel := cfg.Selectors
	indicators := NewCandidates("", sel.AuthIndicators...)
	return &Machine{
		logger:        logger,
		selectors:     sel,
		timing:        cfg.Timing,
		indicators:    indicators,
		submit:        NewCandidates(sel.SubmitButton, sel.SubmitFallbacks...),
		password:      NewCandidates(sel.PasswordInput, sel.PasswordFallbacks...),
		harvester:     NewHarvester(logger),
		verifier:      NewVerifier(logger, sel.LoginButton, indicators, cfg.Timing.NavigationTimeout, cfg.Timing.VerifySettle),
		verify:        cfg.Login.Verify,
		screenshotDir: cfg.Login.ScreenshotDir,
	}
}

// run carries the state of a single Machine.Run call.
type run struct {
	*Machine
	page   Page
	opener PageOpener
	creds  schemas.Credentials
	target *url.URL
	state  State
	log    *zap.Logger
}

// Run logs in on page with creds and returns the normalized cookies. Missing
// credentials fail before any navigation. opener supplies the disposable
// page used for verification; it may be nil to skip verification.
func (m *Machine) Run(ctx context.Context, page Page, opener PageOpener, creds schemas.Credentials) ([]schemas.CookieRecord, error) {
	if missing := creds.Missing(); len(missing) > 0 {
		return nil, apperr.New(apperr.KindConfiguration, "login",
			fmt.Sprintf("missing required configuration: %s", strings.Join(missing, ", ")))
	}
	target, err := url.Parse(strings.TrimSpace(creds.WebURL))
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, apperr.New(apperr.KindConfiguration, "login", "WEB_URL must be an absolute URL")
	}

	r := &run{
		Machine: m,
		page:    page,
		opener:  opener,
		creds:   creds,
		target:  target,
		log:     m.logger.With(zap.String("host", target.Hostname())),
	}
	cookies, err := r.execute(ctx)
	if err != nil {
		r.enter(StateFailed, zap.Error(err))
		return nil, err
	}
	return cookies, nil
}

func (r *run) enter(s State, fields ...zap.Field) {
	r.log.Info("Login state changed.", append([]zap.Field{zap.String("from", string(r.state)), zap.String("to", string(s))}, fields...)...)
	r.state = s
}

func (r *run) execute(ctx context.Context) ([]schemas.CookieRecord, error) {
	if err := r.navigate(ctx); err != nil {
		return nil, err
	}
	r.enter(StateNavigated)

	signedIn, err := r.alreadySignedIn(ctx)
	if err != nil {
		return nil, err
	}

	if signedIn {
		r.enter(StateAlreadyAuthenticated)
		r.awaitIndicators(ctx)
	} else {
		r.enter(StateAwaitingEmail)
		if err := r.emailStep(ctx); err != nil {
			return nil, err
		}
		r.enter(StateAwaitingPassword)
		if err := r.passwordStep(ctx); err != nil {
			return nil, err
		}
		r.enter(StateAwaitingConfirmation)
		if err := r.confirm(ctx); err != nil {
			return nil, err
		}
	}

	r.enter(StateAuthenticated)
	return r.collect(ctx)
}

func (r *run) navigate(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, r.timing.NavigationTimeout)
	err := r.page.Navigate(navCtx, r.target.String())
	cancel()
	if err != nil {
		return classify(ctx, err, apperr.KindNavigation, "login.navigate", "failed to load target page")
	}
	return pause(ctx, r.timing.SPASettle)
}

// alreadySignedIn probes for the login affordance. Not seeing it within the
// probe timeout counts as signed in, so a very slow login button is
// indistinguishable from an existing session.
func (r *run) alreadySignedIn(ctx context.Context) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, r.timing.LoginProbeTimeout)
	err := r.page.WaitVisible(probeCtx, r.selectors.LoginButton)
	cancel()
	switch {
	case err == nil:
		return false, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		r.log.Info("No login affordance found; treating the session as already authenticated.")
		return true, nil
	default:
		return false, classify(ctx, err, apperr.KindNavigation, "login.probe", "failed to probe for login affordance")
	}
}

func (r *run) emailStep(ctx context.Context) error {
	if err := r.page.Click(ctx, r.selectors.LoginButton); err != nil {
		return r.fail(ctx, classify(ctx, err, apperr.KindAuthentication, "login.email", "failed to open login form"), "login-button")
	}
	if err := pause(ctx, r.timing.PostClickDelay); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.timing.EmailTimeout)
	err := r.page.WaitVisible(waitCtx, r.selectors.EmailInput)
	cancel()
	if err != nil {
		return r.fail(ctx, classify(ctx, err, apperr.KindSelectorTimeout, "login.email", "email input did not appear"), "email-field-not-found")
	}
	if err := r.page.ClearAndType(ctx, r.selectors.EmailInput, r.creds.Email); err != nil {
		return r.fail(ctx, classify(ctx, err, apperr.KindAuthentication, "login.email", "failed to fill email"), "email-fill")
	}

	submit, ok := ResolveFirstVisible(ctx, r.page, r.submit, r.timing.SelectorTimeout)
	if !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.fail(ctx, apperr.New(apperr.KindAuthentication, "login.email", "submit button not found"), "submit-not-found")
	}

	winner, err := r.submitAndRace(ctx, submit, func(wait func(context.Context) error) []branch {
		return []branch{
			navigation(wait, r.timing.EmailNavigationTimeout),
			settle(r.timing.SubmitSettle),
		}
	})
	if err != nil {
		return r.fail(ctx, classify(ctx, err, apperr.KindAuthentication, "login.email", "failed to submit email"), "email-submit")
	}
	r.log.Debug("Email submitted.", zap.String("selector", submit), zap.String("signal", winner))
	return nil
}

func (r *run) passwordStep(ctx context.Context) error {
	field, ok := ResolveFirstVisible(ctx, r.page, r.password, r.timing.SelectorTimeout)
	if !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.fail(ctx, apperr.New(apperr.KindSelectorTimeout, "login.password", "password input did not appear"), "password-field-not-found")
	}
	if err := r.page.ClearAndType(ctx, field, r.creds.Password); err != nil {
		return r.fail(ctx, classify(ctx, err, apperr.KindAuthentication, "login.password", "failed to fill password"), "password-fill")
	}

	submit, ok := ResolveFirstVisible(ctx, r.page, r.submit, r.timing.SelectorTimeout)
	if !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.fail(ctx, apperr.New(apperr.KindAuthentication, "login.password", "final submit button not found"), "final-submit-not-found")
	}

	winner, err := r.submitAndRace(ctx, submit, func(wait func(context.Context) error) []branch {
		return []branch{
			navigation(wait, r.timing.PasswordNavigationTimeout),
			signedIn(r.page, r.selectors.LoginButton, r.indicators, r.timing.ConfirmationTimeout),
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var tagged *apperr.Error
		if errors.As(err, &tagged) {
			return r.fail(ctx, err, "password-submit")
		}
		// Neither signal fired; cookies are still worth harvesting.
		r.log.Warn("No post-login signal observed after password submit.", zap.Error(err))
		return nil
	}
	r.log.Debug("Password submitted.", zap.String("selector", submit), zap.String("signal", winner))
	return nil
}

// submitAndRace arms a navigation listener, clicks selector and accepts
// whichever of the given branches succeeds first.
func (r *run) submitAndRace(ctx context.Context, selector string, branches func(wait func(context.Context) error) []branch) (string, error) {
	armCtx, disarm := context.WithCancel(ctx)
	defer disarm()
	wait := r.page.ExpectNavigation(armCtx)

	if err := r.page.Click(ctx, selector); err != nil {
		return "", classify(ctx, err, apperr.KindAuthentication, "login.submit", "failed to click submit")
	}
	return firstOf(ctx, branches(wait)...)
}

func (r *run) confirm(ctx context.Context) error {
	if err := pause(ctx, r.timing.ConfirmationGrace); err != nil {
		return err
	}
	r.awaitIndicators(ctx)

	idleCtx, cancel := context.WithTimeout(ctx, r.timing.NetworkIdleTimeout)
	if err := r.page.WaitNetworkIdle(idleCtx); err != nil && ctx.Err() == nil {
		r.log.Debug("Network did not go idle.", zap.Error(err))
	}
	cancel()

	probeCtx, cancel := context.WithTimeout(ctx, r.timing.SelectorTimeout)
	stillThere := r.page.WaitVisible(probeCtx, r.selectors.LoginButton) == nil
	cancel()
	if stillThere {
		r.log.Warn("Login affordance still visible after submit; login may have failed.")
	}
	return ctx.Err()
}

// awaitIndicators waits briefly for any authenticated indicator. Not finding
// one is only logged.
func (r *run) awaitIndicators(ctx context.Context) {
	if len(r.indicators) == 0 {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.timing.AuthIndicatorWait)
	defer cancel()
	if err := r.page.WaitVisible(waitCtx, r.indicators.Group()); err != nil {
		r.log.Debug("No authenticated indicator appeared.", zap.Error(err))
		return
	}
	r.log.Debug("Authenticated indicator present.")
}

func (r *run) collect(ctx context.Context) ([]schemas.CookieRecord, error) {
	if err := pause(ctx, r.timing.CookieFlush); err != nil {
		return nil, err
	}
	cookies, err := r.harvester.Harvest(ctx, r.page, r.target.Hostname())
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		r.log.Warn("No cookies matched the target host.")
	}

	if r.verify && r.opener != nil && len(cookies) > 0 {
		ok := r.verifier.Verify(ctx, r.opener, cookies, r.target.String())
		r.log.Info("Cookie verification result.", zap.Bool("authenticated", ok))
	}
	return cookies, nil
}

// classify tags err with kind unless the run's context has ended, in which
// case the context error is returned, or err already carries a kind.
func classify(ctx context.Context, err error, kind apperr.Kind, op, msg string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var tagged *apperr.Error
	if errors.As(err, &tagged) {
		return err
	}
	return apperr.Wrap(kind, op, err, msg)
}

// fail saves a screenshot named after the failing step when a screenshot
// directory is configured, then returns err unchanged.
func (r *run) fail(ctx context.Context, err error, step string) error {
	if r.screenshotDir == "" {
		return err
	}
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	png, shotErr := r.page.Screenshot(shotCtx)
	if shotErr != nil {
		r.log.Debug("Failure screenshot unavailable.", zap.Error(shotErr))
		return err
	}
	if mkErr := os.MkdirAll(r.screenshotDir, 0o755); mkErr != nil {
		r.log.Warn("Cannot create screenshot directory.", zap.Error(mkErr))
		return err
	}
	name := filepath.Join(r.screenshotDir, fmt.Sprintf("%s-%s.png", step, time.Now().UTC().Format("20060102T150405")))
	if wErr := os.WriteFile(name, png, 0o644); wErr != nil {
		r.log.Warn("Failed to write failure screenshot.", zap.Error(wErr))
		return err
	}
	r.log.Info("Failure screenshot saved.", zap.String("path", name))
	return err
}
