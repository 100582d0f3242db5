// internal/browser/tab.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const visibilityPollInterval = 50 * time.Millisecond

// visibleScript reports whether the first match of a selector is rendered.
// %s receives the JSON-quoted selector.
const visibleScript = `(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	const style = window.getComputedStyle(el);
	if (style.visibility === 'hidden' || style.display === 'none') return false;
	const rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
})()`

const clearScript = `(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	if ('value' in el) { el.value = ''; } else { el.textContent = ''; }
	el.dispatchEvent(new Event('input', { bubbles: true }));
	return true;
})()`

// chromedpTab is the chromedp-backed Tab. Its context carries the target and
// its own browser context; cancelling it disposes both.
type chromedpTab struct {
	id     string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	idle        *idleTracker
	quietPeriod time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	// onClose is invoked exactly once after the tab is released.
	onClose      func()
	closeTimeout time.Duration
}

func (t *chromedpTab) ID() string { return t.id }

// run executes actions on a context bound to both the tab and ctx.
func (t *chromedpTab) run(ctx context.Context, actions ...chromedp.Action) error {
	if t.closed.Load() {
		return ErrTabClosed
	}
	opCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()

	err := chromedp.Run(opCtx, actions...)
	if err != nil && t.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrTabClosed, err)
	}
	return err
}

func (t *chromedpTab) Navigate(ctx context.Context, url string) error {
	t.logger.Debug("Navigating tab.", zap.String("url", url))
	err := t.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, errorText, err := page.Navigate(url).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return fmt.Errorf("page load error %s", errorText)
			}
			return nil
		}),
		// body exists once the document has been parsed.
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (t *chromedpTab) URL(ctx context.Context) (string, error) {
	var u string
	if err := t.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return u, nil
}

func (t *chromedpTab) Title(ctx context.Context) (string, error) {
	var title string
	if err := t.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

func (t *chromedpTab) HTML(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read document markup: %w", err)
	}
	return html, nil
}

func (t *chromedpTab) IsVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	quoted, err := json.MarshalToString(selector)
	if err != nil {
		return false, err
	}
	script := fmt.Sprintf(visibleScript, quoted)

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(visibilityPollInterval)
	defer ticker.Stop()

	for {
		var visible bool
		err := t.evaluate(probeCtx, script, &visible)
		switch {
		case err == nil && visible:
			return true, nil
		case errors.Is(err, ErrTabClosed):
			return false, err
		case err != nil && probeCtx.Err() == nil:
			// Invalid selectors throw inside querySelector; treat as absent.
			t.logger.Debug("Visibility probe failed.", zap.String("selector", selector), zap.Error(err))
			return false, nil
		}

		select {
		case <-probeCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		case <-ticker.C:
		}
	}
}

func (t *chromedpTab) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := t.run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element '%s' not ready within %s: %w", selector, timeout, err)
	}
	return nil
}

func (t *chromedpTab) Fill(ctx context.Context, selector, text string) error {
	quoted, err := json.MarshalToString(selector)
	if err != nil {
		return err
	}
	err = t.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(clearScript, quoted), nil),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to fill '%s': %w", selector, err)
	}
	return nil
}

func (t *chromedpTab) Press(ctx context.Context, selector, key string) error {
	if err := t.run(ctx, chromedp.SendKeys(selector, key, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to press key on '%s': %w", selector, err)
	}
	return nil
}

func (t *chromedpTab) Click(ctx context.Context, selector string) error {
	if err := t.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("failed to click '%s': %w", selector, err)
	}
	return nil
}

// evaluate runs a JS expression and decodes its result into res.
func (t *chromedpTab) evaluate(ctx context.Context, expression string, res any) error {
	if err := t.run(ctx, chromedp.Evaluate(expression, res)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

func (t *chromedpTab) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	if t.closed.Load() {
		return ErrTabClosed
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	opCtx, cancelOp := CombineContext(t.ctx, waitCtx)
	defer cancelOp()

	return t.idle.wait(opCtx, t.quietPeriod)
}

// Close releases the tab and its browser context. Safe to call repeatedly.
func (t *chromedpTab) Close(ctx context.Context) error {
	var closeErr error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		defer func() {
			if t.onClose != nil {
				t.onClose()
			}
		}()

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(t.ctx) }()

		waitCtx, cancel := context.WithTimeout(ctx, t.closeTimeout)
		defer cancel()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				closeErr = fmt.Errorf("failed to close tab %s: %w", t.id, err)
			}
		case <-waitCtx.Done():
			t.logger.Warn("Deadline exceeded waiting for tab to close.", zap.Error(waitCtx.Err()))
		}
		t.cancel()
		t.logger.Debug("Tab closed.")
	})
	return closeErr
}
