package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/tabrelay/internal/browser"
)

// PageTab is a browser.Tab backed by static markup. Queries run through
// goquery, inputs are recorded, and hooks let a test mutate the page in
// response to a click or key press.
type PageTab struct {
	mu sync.Mutex

	TabID string
	url   string
	html  string

	Fills   map[string]string
	Presses []string
	Clicks  []string
	Closes  int

	// OnPress and OnClick run after the input has been recorded.
	OnPress func(p *PageTab, selector, key string)
	OnClick func(p *PageTab, selector string)
	// NavigateErr is returned by Navigate when set.
	NavigateErr error
}

var _ browser.Tab = (*PageTab)(nil)

// NewPageTab returns a tab showing html at url.
func NewPageTab(url, html string) *PageTab {
	return &PageTab{TabID: "page-tab", url: url, html: html, Fills: make(map[string]string)}
}

// SetPage replaces the current document.
func (p *PageTab) SetPage(url, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if url != "" {
		p.url = url
	}
	p.html = html
}

func (p *PageTab) doc() (*goquery.Document, error) {
	p.mu.Lock()
	html := p.html
	p.mu.Unlock()
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (p *PageTab) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closes > 0
}

func (p *PageTab) ID() string { return p.TabID }

func (p *PageTab) Navigate(ctx context.Context, url string) error {
	if p.isClosed() {
		return browser.ErrTabClosed
	}
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *PageTab) URL(ctx context.Context) (string, error) {
	if p.isClosed() {
		return "", browser.ErrTabClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *PageTab) Title(ctx context.Context) (string, error) {
	doc, err := p.doc()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

func (p *PageTab) HTML(ctx context.Context) (string, error) {
	if p.isClosed() {
		return "", browser.ErrTabClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

// IsVisible treats an element as visible unless it or an ancestor is hidden
// through the hidden attribute, an inline display/visibility style, or
// type="hidden".
func (p *PageTab) IsVisible(ctx context.Context, selector string, timeout time.Duration) (visible bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	doc, err := p.doc()
	if err != nil {
		return false, err
	}
	defer func() {
		// cascadia panics on selectors it cannot compile.
		if r := recover(); r != nil {
			visible, err = false, nil
		}
	}()

	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return false, nil
	}
	if t, _ := sel.Attr("type"); strings.EqualFold(t, "hidden") {
		return false, nil
	}
	for node := sel; node.Length() > 0; node = node.Parent() {
		if _, hidden := node.Attr("hidden"); hidden {
			return false, nil
		}
		style, _ := node.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false, nil
		}
	}
	return true, nil
}

func (p *PageTab) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	doc, err := p.doc()
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("element '%s' not ready within %s: %w", selector, timeout, context.DeadlineExceeded)
	}
	return nil
}

func (p *PageTab) Fill(ctx context.Context, selector, text string) error {
	if p.isClosed() {
		return browser.ErrTabClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fills[selector] = text
	return nil
}

func (p *PageTab) Press(ctx context.Context, selector, key string) error {
	if p.isClosed() {
		return browser.ErrTabClosed
	}
	p.mu.Lock()
	p.Presses = append(p.Presses, selector+"|"+key)
	hook := p.OnPress
	p.mu.Unlock()
	if hook != nil {
		hook(p, selector, key)
	}
	return nil
}

func (p *PageTab) Click(ctx context.Context, selector string) error {
	if p.isClosed() {
		return browser.ErrTabClosed
	}
	p.mu.Lock()
	p.Clicks = append(p.Clicks, selector)
	hook := p.OnClick
	p.mu.Unlock()
	if hook != nil {
		hook(p, selector)
	}
	return nil
}

func (p *PageTab) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return ctx.Err()
}

func (p *PageTab) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closes++
	return nil
}

// FilledValue returns what was last filled into selector.
func (p *PageTab) FilledValue(selector string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.Fills[selector]
	return v, ok
}
