// internal/strategy/chat.go
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabrelay/internal/browser"
	"github.com/xkilldash9x/tabrelay/internal/config"
	"github.com/xkilldash9x/tabrelay/internal/observability"
)

const (
	actionSendMessage     = "send_message"
	actionGetLastResponse = "get_last_response"
	promptParam           = "prompt"
	msgChatUnknown        = "Invalid action"
	noResponseSentinel    = "No response yet"
	responseFormat        = "markdown"
	siteTypeChat          = "chat_interface"
	chatHandlerName       = "ChatGPTHandler"
)

// ChatResponse carries the text of the latest conversation message.
type ChatResponse struct {
	Response string `json:"response"`
	Format   string `json:"format"`
}

// ChatHandler drives a conversational web interface: it submits a prompt,
// waits for the reply to settle and scrapes it.
type ChatHandler struct {
	cfg    config.ChatStrategyConfig
	logger *zap.Logger
}

var _ Strategy = (*ChatHandler)(nil)

// NewChatHandler creates the chat strategy.
func NewChatHandler(cfg config.ChatStrategyConfig, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{cfg: cfg, logger: logger.Named("chat")}
}

func (c *ChatHandler) Name() string     { return chatHandlerName }
func (c *ChatHandler) SiteType() string { return siteTypeChat }

// ListActions returns the fixed chat catalogue. URL and title are filled in
// when the tab can report them.
func (c *ChatHandler) ListActions(ctx context.Context, tab browser.Tab) (*PageActions, error) {
	start := time.Now()
	defer func() {
		observability.DiscoveryDuration.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
	}()

	url, err := tab.URL(ctx)
	if errors.Is(err, browser.ErrTabClosed) {
		return nil, err
	} else if err != nil {
		c.logger.Debug("Could not read page url.", zap.Error(err))
	}
	title, err := tab.Title(ctx)
	if err != nil {
		c.logger.Debug("Could not read page title.", zap.Error(err))
	}

	return &PageActions{
		SiteType: c.SiteType(),
		URL:      url,
		Title:    title,
		AvailableActions: []ActionDescriptor{
			{ID: actionSendMessage, Type: ActionInput, Label: "Send Message to AI", ParamName: promptParam},
			{ID: actionGetLastResponse, Type: ActionRead, Label: "Read latest reply"},
		},
	}, nil
}

// Execute runs send_message or get_last_response.
func (c *ChatHandler) Execute(ctx context.Context, tab browser.Tab, req ActionRequest) (any, error) {
	switch req.ActionID {
	case actionSendMessage:
		prompt, ok := req.Param(promptParam)
		if !ok {
			return nil, missingParameter(req.ActionID, promptParam)
		}
		return c.sendMessage(ctx, tab, prompt)
	case actionGetLastResponse:
		return c.latest(ctx, tab, req.ActionID)
	default:
		return nil, unknownAction(req.ActionID, msgChatUnknown)
	}
}

func (c *ChatHandler) sendMessage(ctx context.Context, tab browser.Tab, prompt string) (*ChatResponse, error) {
	if err := tab.WaitReady(ctx, c.cfg.InputSelector, c.cfg.InputTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, executionFailure(actionSendMessage, err)
		}
		return nil, elementNotFound(actionSendMessage, fmt.Sprintf("Chat input '%s' did not appear: %v", c.cfg.InputSelector, err))
	}
	if err := tab.Fill(ctx, c.cfg.InputSelector, prompt); err != nil {
		return nil, executionFailure(actionSendMessage, fmt.Errorf("failed to type prompt: %w", err))
	}
	if err := tab.Click(ctx, c.cfg.SendSelector); err != nil {
		return nil, executionFailure(actionSendMessage, fmt.Errorf("failed to click send: %w", err))
	}

	err := WaitUntil(ctx, PollOptions{
		Timeout:         c.cfg.CompletionTimeout,
		InitialInterval: c.cfg.PollInterval,
		MaxInterval:     c.cfg.MaxPollInterval,
	}, c.replyComplete(tab))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, executionFailure(actionSendMessage, ctx.Err())
	default:
		c.logger.Warn("Reply did not complete in time, scraping anyway.",
			zap.Duration("timeout", c.cfg.CompletionTimeout),
			zap.Error(err))
		select {
		case <-time.After(c.cfg.GraceDelay):
		case <-ctx.Done():
			return nil, executionFailure(actionSendMessage, ctx.Err())
		}
	}

	return c.latest(ctx, tab, actionSendMessage)
}

// replyComplete holds once the last conversation message has real content
// rather than just the assistant's role label.
func (c *ChatHandler) replyComplete(tab browser.Tab) Condition {
	return func(ctx context.Context) (bool, error) {
		doc, err := snapshot(ctx, tab)
		if err != nil {
			return false, err
		}
		articles := doc.Find(c.cfg.MessageSelector)
		if articles.Length() == 0 {
			return false, nil
		}
		text := articles.Last().Text()
		return utf8.RuneCountInString(text) > c.cfg.MinResponseChars &&
			!strings.Contains(text, c.cfg.RoleLabel), nil
	}
}

func (c *ChatHandler) latest(ctx context.Context, tab browser.Tab, action string) (*ChatResponse, error) {
	doc, err := snapshot(ctx, tab)
	if err != nil {
		return nil, executionFailure(action, err)
	}
	return &ChatResponse{Response: c.extract(doc), Format: responseFormat}, nil
}

// extract returns the text of the latest message, falling back to any
// article and then to a nested content block when the message text is only a
// label.
func (c *ChatHandler) extract(doc *goquery.Document) string {
	articles := doc.Find(c.cfg.MessageSelector)
	if articles.Length() == 0 {
		fallback := doc.Find(c.cfg.FallbackSelector)
		if fallback.Length() == 0 {
			return noResponseSentinel
		}
		if text := strings.TrimSpace(fallback.Last().Text()); text != "" {
			return text
		}
		return noResponseSentinel
	}

	last := articles.Last()
	text := strings.TrimSpace(last.Text())
	if utf8.RuneCountInString(text) < c.cfg.ShortTextChars {
		if content := last.Find(c.cfg.ContentSelector).First(); content.Length() > 0 {
			if inner := strings.TrimSpace(content.Text()); inner != "" {
				text = inner
			}
		}
	}
	if text == "" {
		return noResponseSentinel
	}
	return text
}
