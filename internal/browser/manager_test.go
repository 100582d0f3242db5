// internal/browser/manager_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tabrelay/internal/browser/stealth"
	"github.com/xkilldash9x/tabrelay/internal/config"
)

func TestBuildAllocatorOptions(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.BrowserCfg.Args = []string{"--lang=en-US", "mute-audio"}
	m := &Manager{cfg: cfg, persona: stealth.PersonaFromConfig(cfg.Browser().Persona)}

	// ExecAllocatorOption values are opaque funcs, so only the count is observable:
	// the defaults, eight fixed additions and the two configured args.
	assert.Len(t, m.buildAllocatorOptions(), len(chromedp.DefaultExecAllocatorOptions)+8+2)

	cfg.BrowserCfg.ExecPath = "/opt/chrome/chrome"
	assert.Len(t, m.buildAllocatorOptions(), len(chromedp.DefaultExecAllocatorOptions)+8+2+1)
}

func TestManagerShutdownRejectsNewTabs(t *testing.T) {
	m := &Manager{logger: zaptest.NewLogger(t), cfg: config.NewDefaultConfig()}
	m.allocatorCtx, m.allocatorCancel = context.WithCancel(context.Background())
	m.browserCtx, m.browserCancel = context.WithCancel(context.Background())

	// A creation in flight holds shutdown until its deadline.
	require.NoError(t, m.track())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, m.Shutdown(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Error(t, m.browserCtx.Err())

	_, err := m.NewTab(context.Background())
	require.ErrorIs(t, err, ErrEngine)
	assert.Contains(t, err.Error(), "shutting down")

	m.wg.Done()
}

// findChrome returns the path of a Chrome binary, skipping the test if none is installed.
func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary found")
	return ""
}

const fixturePage = `<!DOCTYPE html>
<html><head><title>Fixture</title></head>
<body>
  <h1 id="top">Welcome</h1>
  <input type="text" id="q2">
  <input type="text" id="hidden" style="display:none">
</body></html>`

func TestManagerIntegration(t *testing.T) {
	execPath := findChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, fixturePage)
	}))
	defer srv.Close()

	cfg := config.NewDefaultConfig()
	cfg.BrowserCfg.ExecPath = execPath
	cfg.NetworkCfg.IdleQuietPeriod = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	m, err := NewManager(ctx, zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	tab, err := m.NewTab(ctx)
	require.NoError(t, err)

	require.NoError(t, tab.Navigate(ctx, srv.URL))

	title, err := tab.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Fixture", title)

	u, err := tab.URL(ctx)
	require.NoError(t, err)
	assert.Contains(t, u, srv.URL)

	html, err := tab.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `id="q2"`)

	visible, err := tab.IsVisible(ctx, "#q2", 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, visible)

	visible, err = tab.IsVisible(ctx, "#hidden", 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, visible)

	visible, err = tab.IsVisible(ctx, "#missing", 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, visible)

	require.NoError(t, tab.Fill(ctx, "#q2", "hello"))
	ct := tab.(*chromedpTab)
	var value string
	require.NoError(t, ct.evaluate(ctx, `document.querySelector('#q2').value`, &value))
	assert.Equal(t, "hello", value)
	require.NoError(t, tab.Press(ctx, "#q2", kb.Enter))

	var webdriver bool
	require.NoError(t, ct.evaluate(ctx, `navigator.webdriver === undefined`, &webdriver))
	assert.True(t, webdriver, "navigator.webdriver should be masked")

	var tz string
	require.NoError(t, ct.evaluate(ctx, `Intl.DateTimeFormat().resolvedOptions().timeZone`, &tz))
	assert.Equal(t, "America/New_York", tz)

	assert.NoError(t, tab.WaitNetworkIdle(ctx, 5*time.Second))

	require.NoError(t, tab.Close(ctx))
	require.NoError(t, tab.Close(ctx), "second close is a no-op")

	_, err = tab.Title(ctx)
	assert.ErrorIs(t, err, ErrTabClosed)
}
