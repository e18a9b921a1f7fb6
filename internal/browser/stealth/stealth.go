// Package stealth makes an automated tab present itself like a regular
// user-operated browser.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/weblogin-harvester/internal/config"
)

// evasionsScript runs before any page script in every document of the tab.
//
//go:embed evasions.js
var evasionsScript string

// languagesSlot marks where Script writes the persona's languages.
const languagesSlot = "/*LANGUAGES*/[]"

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string
	Locale    string
	Languages []string
	// Timezone is an IANA zone ID; empty keeps the host zone.
	Timezone string
}

// FromConfig derives the persona from the browser settings.
func FromConfig(cfg config.BrowserConfig) Persona {
	return Persona{
		UserAgent: cfg.UserAgent,
		Locale:    cfg.Locale,
		Languages: languagesFor(cfg.Locale),
		Timezone:  cfg.Timezone,
	}
}

// languagesFor expands "en-US" into ["en-US", "en"].
func languagesFor(locale string) []string {
	if locale == "" {
		return nil
	}
	langs := []string{locale}
	if base, _, ok := strings.Cut(locale, "-"); ok && base != "" {
		langs = append(langs, base)
	}
	return langs
}

// AcceptLanguage renders the Accept-Language header for p.
func (p Persona) AcceptLanguage() string {
	if len(p.Languages) == 0 {
		return ""
	}
	parts := []string{p.Languages[0]}
	for i, lang := range p.Languages[1:] {
		q := 0.9 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// Script returns the evasion script with the persona's languages filled in.
func (p Persona) Script() string {
	quoted := make([]string, 0, len(p.Languages))
	for _, lang := range p.Languages {
		quoted = append(quoted, fmt.Sprintf("%q", lang))
	}
	return strings.Replace(evasionsScript, languagesSlot, "["+strings.Join(quoted, ", ")+"]", 1)
}

// Apply returns the actions that install p on the current tab. They must run
// before the first navigation.
func Apply(p Persona) chromedp.Tasks {
	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(p.Script()).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}
	if p.UserAgent != "" {
		override := emulation.SetUserAgentOverride(p.UserAgent)
		if al := p.AcceptLanguage(); al != "" {
			override = override.WithAcceptLanguage(al)
		}
		tasks = append(tasks, override)
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	return tasks
}
