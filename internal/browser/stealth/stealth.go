package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabrelay/internal/config"
)

//go:embed evasions.js
var evasionsScript string

// Persona is the fingerprint a tab presents to the pages it visits.
type Persona struct {
	UserAgent     string   `json:"userAgent"`
	Platform      string   `json:"platform"`
	Languages     []string `json:"languages"`
	Locale        string   `json:"locale"`
	TimezoneID    string   `json:"timezoneId"`
	Width         int64    `json:"width"`
	Height        int64    `json:"height"`
	WebGLVendor   string   `json:"webGLVendor"`
	WebGLRenderer string   `json:"webGLRenderer"`
}

// DefaultPersona is a Chrome 121 desktop on Windows in New York.
var DefaultPersona = Persona{
	UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	Platform:      "Win32",
	Languages:     []string{"en-US", "en"},
	Locale:        "en-US",
	TimezoneID:    "America/New_York",
	Width:         1920,
	Height:        1080,
	WebGLVendor:   "Intel Open Source Technology Center",
	WebGLRenderer: "Mesa DRI Intel(R) Ivybridge Mobile",
}

// PersonaFromConfig builds a Persona from configuration, falling back to
// DefaultPersona for every field left empty.
func PersonaFromConfig(cfg config.PersonaConfig) Persona {
	p := DefaultPersona
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if cfg.Platform != "" {
		p.Platform = cfg.Platform
	}
	if len(cfg.Languages) > 0 {
		p.Languages = cfg.Languages
	}
	if cfg.Locale != "" {
		p.Locale = cfg.Locale
	}
	if cfg.TimezoneID != "" {
		p.TimezoneID = cfg.TimezoneID
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		p.Width, p.Height = cfg.ViewportWidth, cfg.ViewportHeight
	}
	if cfg.WebGLVendor != "" {
		p.WebGLVendor = cfg.WebGLVendor
	}
	if cfg.WebGLRenderer != "" {
		p.WebGLRenderer = cfg.WebGLRenderer
	}
	return p
}

// Apply returns the actions that install the persona on a tab. It must run
// before the first navigation so the script is present on every document.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	l := logger.Named("stealth")
	return chromedp.Tasks{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": AcceptLanguage(p.Languages)}),
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(strings.Join(p.Languages, ",")),
		emulation.SetDeviceMetricsOverride(p.Width, p.Height, 1.0, false),
		emulation.SetTimezoneOverride(p.TimezoneID),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := Script(p)
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				l.Error("Failed to register evasion script with CDP", zap.Error(err))
				return fmt.Errorf("stealth: failed to add script on new document: %w", err)
			}
			l.Debug("Stealth profile applied", zap.String("user_agent", p.UserAgent))
			return nil
		}),
	}
}

// Script renders the evasion script with the persona bound to TABRELAY_PERSONA.
func Script(p Persona) (string, error) {
	personaJSON, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("stealth: failed to marshal persona: %w", err)
	}
	return fmt.Sprintf("const TABRELAY_PERSONA = %s;\n%s", personaJSON, evasionsScript), nil
}

// AcceptLanguage formats languages as an Accept-Language header value with
// descending q-weights, floored at 0.7.
func AcceptLanguage(languages []string) string {
	if len(languages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(languages[0])
	for i := 1; i < len(languages); i++ {
		q := 1.0 - float64(i)*0.1
		if q < 0.7 {
			q = 0.7
		}
		fmt.Fprintf(&b, ",%s;q=%.1f", languages[i], q)
	}
	return b.String()
}
