// internal/strategy/generic.go
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabrelay/internal/browser"
	"github.com/xkilldash9x/tabrelay/internal/config"
	"github.com/xkilldash9x/tabrelay/internal/observability"
)

const (
	actionSearch       = "search"
	readSectionPrefix  = "read_section_"
	headingSelector    = "h1, h2, h3"
	searchCandidates   = "input, textarea"
	msgSearchNotFound  = "Could not find a search bar on this page."
	msgGenericUnknown  = "Unknown Action"
	searchLabel        = "Search this site"
	searchParam        = "query"
	siteTypeGeneric    = "generic"
	genericHandlerName = "GenericHandler"
)

// SearchResult is returned by a successful search action.
type SearchResult struct {
	Status       string `json:"status"`
	Action       string `json:"action"`
	SelectorUsed string `json:"selector_used"`
	NewTitle     string `json:"new_title"`
}

// SectionResult is returned by a read_section_<n> action.
type SectionResult struct {
	Action   string `json:"action"`
	Heading  string `json:"heading"`
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// GenericHandler is the fallback strategy for arbitrary pages. It offers a
// site search when the page appears to have one and a reader for the first
// few headings.
type GenericHandler struct {
	cfg     config.GenericStrategyConfig
	network config.NetworkConfig
	logger  *zap.Logger
}

var _ Strategy = (*GenericHandler)(nil)

// NewGenericHandler creates the generic strategy.
func NewGenericHandler(cfg config.GenericStrategyConfig, network config.NetworkConfig, logger *zap.Logger) *GenericHandler {
	return &GenericHandler{
		cfg:     cfg,
		network: network,
		logger:  logger.Named("generic"),
	}
}

func (g *GenericHandler) Name() string     { return genericHandlerName }
func (g *GenericHandler) SiteType() string { return siteTypeGeneric }

// ListActions reads a snapshot of the page markup. It never touches the live
// document.
func (g *GenericHandler) ListActions(ctx context.Context, tab browser.Tab) (*PageActions, error) {
	start := time.Now()
	defer func() {
		observability.DiscoveryDuration.WithLabelValues(g.Name()).Observe(time.Since(start).Seconds())
	}()

	doc, err := snapshot(ctx, tab)
	if err != nil {
		return nil, err
	}
	url, err := tab.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page url: %w", err)
	}
	title, err := tab.Title(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page title: %w", err)
	}

	actions := make([]ActionDescriptor, 0, g.cfg.MaxHeadings+1)
	if hasSearchInput(doc) {
		actions = append(actions, ActionDescriptor{
			ID:        actionSearch,
			Type:      ActionInput,
			Label:     searchLabel,
			ParamName: searchParam,
		})
	}
	for _, h := range g.headings(doc) {
		actions = append(actions, ActionDescriptor{
			ID:       readSectionPrefix + strconv.Itoa(h.index),
			Type:     ActionExtract,
			Label:    "Read: " + truncateRunes(h.text, g.cfg.LabelMaxChars) + "...",
			Selector: h.selector,
		})
	}

	return &PageActions{
		SiteType:         g.SiteType(),
		URL:              url,
		Title:            title,
		AvailableActions: actions,
	}, nil
}

// Execute runs search or read_section_<n>.
func (g *GenericHandler) Execute(ctx context.Context, tab browser.Tab, req ActionRequest) (any, error) {
	switch {
	case req.ActionID == actionSearch:
		query, ok := req.Param(searchParam)
		if !ok {
			return nil, missingParameter(req.ActionID, searchParam)
		}
		return g.search(ctx, tab, query)
	case strings.HasPrefix(req.ActionID, readSectionPrefix):
		n, ok := sectionIndex(req.ActionID)
		if !ok {
			return nil, unknownAction(req.ActionID, msgGenericUnknown)
		}
		return g.readSection(ctx, tab, req.ActionID, n)
	default:
		return nil, unknownAction(req.ActionID, msgGenericUnknown)
	}
}

// sectionIndex parses read_section_<n>. Only the canonical form ListActions
// emits is accepted, so "01" and "+1" are rejected.
func sectionIndex(action string) (int, bool) {
	suffix := strings.TrimPrefix(action, readSectionPrefix)
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 || strconv.Itoa(n) != suffix {
		return 0, false
	}
	return n, true
}

func (g *GenericHandler) search(ctx context.Context, tab browser.Tab, query string) (*SearchResult, error) {
	for _, selector := range g.cfg.SearchSelectors {
		visible, err := tab.IsVisible(ctx, selector, g.cfg.ProbeTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, browser.ErrTabClosed) {
				return nil, executionFailure(actionSearch, err)
			}
			g.logger.Debug("Search probe failed.", zap.String("selector", selector), zap.Error(err))
			continue
		}
		if !visible {
			continue
		}

		g.logger.Debug("Found search bar.", zap.String("selector", selector))
		if err := tab.Fill(ctx, selector, query); err != nil {
			g.logger.Debug("Could not fill search bar.", zap.String("selector", selector), zap.Error(err))
			continue
		}
		if err := tab.Press(ctx, selector, kb.Enter); err != nil {
			g.logger.Debug("Could not submit search.", zap.String("selector", selector), zap.Error(err))
			continue
		}

		// Results may keep the network busy; proceed once the cap expires.
		if err := tab.WaitNetworkIdle(ctx, g.network.NetworkIdleTimeout); err != nil {
			g.logger.Debug("Network did not settle after search.", zap.Error(err))
		}

		title, err := tab.Title(ctx)
		if err != nil {
			g.logger.Debug("Could not read title after search.", zap.Error(err))
		}
		return &SearchResult{
			Status:       "success",
			Action:       actionSearch,
			SelectorUsed: selector,
			NewTitle:     title,
		}, nil
	}
	return nil, elementNotFound(actionSearch, msgSearchNotFound)
}

func (g *GenericHandler) readSection(ctx context.Context, tab browser.Tab, action string, n int) (*SectionResult, error) {
	doc, err := snapshot(ctx, tab)
	if err != nil {
		return nil, executionFailure(action, err)
	}
	for _, h := range g.headings(doc) {
		if h.index != n {
			continue
		}
		var parts []string
		h.node.NextUntil(headingSelector).Each(func(_ int, s *goquery.Selection) {
			if t := collapseSpace(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		text := strings.Join(parts, " ")
		return &SectionResult{
			Action:   action,
			Heading:  h.text,
			Selector: h.selector,
			Text:     truncateRunes(text, g.cfg.MaxSectionChars),
		}, nil
	}
	return nil, elementNotFound(action, fmt.Sprintf("Section %d was not found on this page.", n))
}

type heading struct {
	index    int
	text     string
	selector string
	node     *goquery.Selection
}

// headings returns the non-empty headings among the first MaxHeadings h1-h3
// elements. Indexes count the empty ones too.
func (g *GenericHandler) headings(doc *goquery.Document) []heading {
	var out []heading
	doc.Find(headingSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= g.cfg.MaxHeadings {
			return false
		}
		text := collapseSpace(s.Text())
		if text == "" {
			return true
		}
		selector := goquery.NodeName(s)
		if id, ok := s.Attr("id"); ok && id != "" {
			selector = "#" + id
		}
		out = append(out, heading{index: i, text: text, selector: selector, node: s})
		return true
	})
	return out
}

func hasSearchInput(doc *goquery.Document) bool {
	found := false
	doc.Find(searchCandidates).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		typ, _ := s.Attr("type")
		class, _ := s.Attr("class")
		placeholder, _ := s.Attr("placeholder")
		if name == "q" ||
			strings.EqualFold(typ, "search") ||
			strings.Contains(strings.ToLower(class), "search") ||
			strings.Contains(strings.ToLower(placeholder), "search") {
			found = true
			return false
		}
		return true
	})
	return found
}

// snapshot parses the tab's current markup.
func snapshot(ctx context.Context, tab browser.Tab) (*goquery.Document, error) {
	html, err := tab.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page content: %w", err)
	}
	return doc, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
