// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabrelay/internal/browser/stealth"
	"github.com/xkilldash9x/tabrelay/internal/config"
)

const defaultCloseTimeout = 10 * time.Second

// Manager owns the browser process. All tabs are derived from browserCtx,
// each in its own browser context.
type Manager struct {
	logger *zap.Logger
	cfg    config.Interface

	persona stealth.Persona

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	// wg tracks open tabs for a graceful shutdown. Add only happens under mu
	// while closing is false, so it never races Wait.
	wg           sync.WaitGroup
	mu           sync.Mutex
	closing      bool
	shutdownOnce sync.Once
}

var _ Engine = (*Manager)(nil)

// NewManager launches the browser and verifies it responds. The browser
// outlives ctx; only Shutdown terminates it.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.Interface) (*Manager, error) {
	m := &Manager{
		logger:  logger.Named("browser_manager"),
		cfg:     cfg,
		persona: stealth.PersonaFromConfig(cfg.Browser().Persona),
	}

	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to launch browser: %v", ErrEngine, err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", m.cfg.Browser().Headless))

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(Detach(ctx), m.buildAllocatorOptions()...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	timeout := m.cfg.Browser().LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// The first Run allocates the browser and binds it to browserCtx, so it
	// cannot carry a deadline of its own.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(m.browserCtx, chromedp.Navigate("about:blank")) }()

	var err error
	select {
	case err = <-started:
	case <-time.After(timeout):
		err = fmt.Errorf("browser did not respond within %s", timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		m.browserCancel()
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions starts from the chromedp defaults, suppresses
// enable-automation and adds the anti-detection flags.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	bc := m.cfg.Browser()
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// Flags are a map keyed by name; false suppresses a default.
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", bc.Headless),
		chromedp.Flag("ignore-certificate-errors", bc.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(m.persona.UserAgent),
		chromedp.WindowSize(int(m.persona.Width), int(m.persona.Height)),
	)

	if bc.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(bc.ExecPath))
	}

	for _, arg := range bc.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	return opts
}

// NewTab opens an isolated tab, applies the persona and starts network tracking.
func (m *Manager) NewTab(ctx context.Context) (_ Tab, err error) {
	if err = m.track(); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			m.wg.Done()
		}
	}()
	if m.browserCtx.Err() != nil {
		return nil, fmt.Errorf("%w: browser is not running", ErrEngine)
	}

	id := uuid.NewString()
	logger := m.logger.Named("tab").With(zap.String("tab_id", id))

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx, chromedp.WithNewBrowserContext())

	closeTimeout := m.cfg.Session().CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}

	t := &chromedpTab{
		id:           id,
		logger:       logger,
		ctx:          tabCtx,
		cancel:       tabCancel,
		idle:         newIdleTracker(logger),
		quietPeriod:  m.cfg.Network().IdleQuietPeriod,
		closeTimeout: closeTimeout,
	}
	t.idle.attach(tabCtx)

	// The first Run attaches the target and binds its event loop to the
	// context it is given, so it has to be tabCtx itself.
	attached := make(chan error, 1)
	go func() { attached <- chromedp.Run(tabCtx) }()

	select {
	case err = <-attached:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("%w: failed to create tab: %v", ErrEngine, err)
	}

	// Installs the fingerprint before any navigation.
	if err = t.run(ctx, stealth.Apply(m.persona, logger)); err != nil {
		tabCancel()
		return nil, fmt.Errorf("%w: failed to initialize tab: %v", ErrEngine, err)
	}

	t.onClose = m.wg.Done

	logger.Debug("Tab opened.")
	return t, nil
}

// track counts a tab that is about to be opened. It fails once Shutdown has
// started.
func (m *Manager) track() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return fmt.Errorf("%w: browser is shutting down", ErrEngine)
	}
	m.wg.Add(1)
	return nil
}

// Shutdown waits for open tabs up to ctx's deadline, then terminates the
// browser. Later calls are no-ops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		m.closing = true
		m.mu.Unlock()
		m.logger.Info("Browser manager shutdown initiated. Waiting for open tabs to close...")

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			m.logger.Info("All tabs have closed.")
		case <-ctx.Done():
			m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
		}

		m.browserCancel()
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
		m.logger.Info("Browser process terminated.")
	})
	return nil
}
