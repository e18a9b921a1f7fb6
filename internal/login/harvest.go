package login

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
)

// Harvester collects the cookies a login run produced.
type Harvester struct {
	logger *zap.Logger
}

// NewHarvester creates a Harvester.
func NewHarvester(logger *zap.Logger) *Harvester {
	return &Harvester{logger: logger.Named("harvester")}
}

// Harvest reads every browser context's jar and, since some browser builds
// only report cookies through one of the two paths, every open page as well.
// document.cookie is parsed only when both structured reads come back empty.
// Read failures are logged; only the end of ctx is returned as an error.
func (h *Harvester) Harvest(ctx context.Context, page Page, targetHost string) ([]schemas.CookieRecord, error) {
	var raw []schemas.RawCookie

	byContext, err := page.ContextCookies(ctx)
	if err != nil {
		h.logger.Warn("Failed to read browser context cookies.", zap.Error(err))
	}
	for _, jar := range byContext {
		raw = append(raw, jar...)
	}

	byPage, err := page.PageCookies(ctx)
	if err != nil {
		h.logger.Warn("Failed to read page cookies.", zap.Error(err))
	}
	for _, jar := range byPage {
		raw = append(raw, jar...)
	}

	if len(raw) == 0 && ctx.Err() == nil {
		raw = h.documentFallback(ctx, page)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := Normalize(raw, targetHost)
	h.logger.Info("Cookies harvested.",
		zap.Int("raw", len(raw)),
		zap.Int("kept", len(records)),
		zap.String("host", targetHost),
	)
	return records, nil
}

func (h *Harvester) documentFallback(ctx context.Context, page Page) []schemas.RawCookie {
	header, err := page.DocumentCookie(ctx)
	if err != nil {
		h.logger.Warn("Failed to read document.cookie.", zap.Error(err))
		return nil
	}
	pageHost := ""
	if loc, err := page.Location(ctx); err == nil {
		if u, err := url.Parse(loc); err == nil {
			pageHost = u.Hostname()
		}
	}
	raw := ParseDocumentCookie(header, pageHost)
	h.logger.Debug("Using document.cookie fallback.", zap.Int("cookies", len(raw)))
	return raw
}
