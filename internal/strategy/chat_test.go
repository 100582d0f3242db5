// internal/strategy/chat_test.go
package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/tabrelay/internal/config"
	"github.com/xkilldash9x/tabrelay/internal/mocks"
)

const chatComposer = `<textarea id="prompt-textarea"></textarea><button data-testid="send-button">Send</button>`

func fastChatConfig() config.ChatStrategyConfig {
	cfg := config.NewDefaultConfig().Strategies().Chat
	cfg.InputTimeout = 100 * time.Millisecond
	cfg.CompletionTimeout = 300 * time.Millisecond
	cfg.GraceDelay = 10 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxPollInterval = 20 * time.Millisecond
	return cfg
}

func conversation(articles ...string) string {
	out := `<div data-testid="conversation">`
	for _, a := range articles {
		out += "<article>" + a + "</article>"
	}
	return out + "</div>"
}

func TestChatListActions(t *testing.T) {
	h := NewChatHandler(fastChatConfig(), zaptest.NewLogger(t))
	tab := mocks.NewPageTab("https://chatgpt.com/", page(chatComposer))

	got, err := h.ListActions(context.Background(), tab)
	require.NoError(t, err)

	assert.Equal(t, "chat_interface", got.SiteType)
	assert.Equal(t, "https://chatgpt.com/", got.URL)
	assert.Equal(t, "Fixture", got.Title)
	assert.Equal(t, []ActionDescriptor{
		{ID: "send_message", Type: ActionInput, Label: "Send Message to AI", ParamName: "prompt"},
		{ID: "get_last_response", Type: ActionRead, Label: "Read latest reply"},
	}, got.AvailableActions)
}

func TestChatSendMessage(t *testing.T) {
	cfg := fastChatConfig()
	h := NewChatHandler(cfg, zaptest.NewLogger(t))
	tab := mocks.NewPageTab("https://chatgpt.com/", page(chatComposer))
	tab.OnClick = func(p *mocks.PageTab, selector string) {
		p.SetPage("", page(chatComposer+conversation(
			"You said: hello",
			"<h6>ChatGPT said:</h6>",
		)))
		go func() {
			time.Sleep(30 * time.Millisecond)
			p.SetPage("", page(chatComposer+conversation(
				"You said: hello",
				"<div class=\"markdown\">Hello! How can I help you today?</div>",
			)))
		}()
	}

	res, err := h.Execute(context.Background(), tab, ActionRequest{
		ActionID: "send_message",
		Params:   map[string]string{"prompt": "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, &ChatResponse{Response: "Hello! How can I help you today?", Format: "markdown"}, res)

	v, ok := tab.FilledValue(cfg.InputSelector)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	assert.Equal(t, []string{cfg.SendSelector}, tab.Clicks)
}

func TestChatSendMessage_DegradedCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := NewChatHandler(fastChatConfig(), zap.New(core))
	tab := mocks.NewPageTab("https://chatgpt.com/", page(chatComposer))
	tab.OnClick = func(p *mocks.PageTab, selector string) {
		// The role label never goes away, so the reply is never judged complete.
		p.SetPage("", page(chatComposer+conversation(`<h6>ChatGPT said:</h6><div class="markdown">Hi</div>`)))
	}

	res, err := h.Execute(context.Background(), tab, ActionRequest{
		ActionID: "send_message",
		Params:   map[string]string{"prompt": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi", res.(*ChatResponse).Response)
	assert.Equal(t, 1, logs.FilterMessageSnippet("did not complete").Len())
}

func TestChatSendMessage_Failures(t *testing.T) {
	t.Run("missing prompt", func(t *testing.T) {
		h := NewChatHandler(fastChatConfig(), zaptest.NewLogger(t))
		tab := mocks.NewPageTab("https://chatgpt.com/", page(chatComposer))

		_, err := h.Execute(context.Background(), tab, ActionRequest{ActionID: "send_message", Params: map[string]string{"prompt": ""}})
		ae, ok := AsActionError(err)
		require.True(t, ok)
		assert.Equal(t, CodeMissingParameter, ae.Code)
		assert.Equal(t, "Missing required parameter: prompt", ae.Error())
	})

	t.Run("composer missing", func(t *testing.T) {
		h := NewChatHandler(fastChatConfig(), zaptest.NewLogger(t))
		tab := mocks.NewPageTab("https://chatgpt.com/", page("<p>Log in</p>"))

		_, err := h.Execute(context.Background(), tab, ActionRequest{ActionID: "send_message", Params: map[string]string{"prompt": "x"}})
		ae, ok := AsActionError(err)
		require.True(t, ok)
		assert.Equal(t, CodeElementNotFound, ae.Code)
		assert.Empty(t, tab.Clicks)
	})

	t.Run("cancellation stops polling", func(t *testing.T) {
		cfg := fastChatConfig()
		cfg.CompletionTimeout = 5 * time.Second
		h := NewChatHandler(cfg, zaptest.NewLogger(t))
		tab := mocks.NewPageTab("https://chatgpt.com/", page(chatComposer))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := h.Execute(ctx, tab, ActionRequest{ActionID: "send_message", Params: map[string]string{"prompt": "x"}})
		assert.Less(t, time.Since(start), 2*time.Second)

		ae, ok := AsActionError(err)
		require.True(t, ok)
		assert.Equal(t, CodeExecutionFailure, ae.Code)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestChatGetLastResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no messages", `<p>empty</p>`, "No response yet"},
		{"fallback article", `<article> first </article><article> second reply </article>`, "second reply"},
		{"empty fallback article", `<article>   </article>`, "No response yet"},
		{"last conversation message", conversation("question", "  the answer is forty-two  "), "the answer is forty-two"},
		{"short text uses nested content", conversation(`<span>Said:</span><div class="message-body">Sure.</div>`), "Sure."},
		{"empty conversation message", conversation("q", ""), "No response yet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewChatHandler(fastChatConfig(), zaptest.NewLogger(t))
			tab := mocks.NewPageTab("https://chatgpt.com/c/1", page(tt.body))

			res, err := h.Execute(context.Background(), tab, ActionRequest{ActionID: "get_last_response"})
			require.NoError(t, err)
			assert.Equal(t, &ChatResponse{Response: tt.want, Format: "markdown"}, res)
			assert.Empty(t, tab.Clicks)
		})
	}
}

func TestChatExecute_Unknown(t *testing.T) {
	h := NewChatHandler(fastChatConfig(), zaptest.NewLogger(t))
	tab := mocks.NewPageTab("https://chatgpt.com/", page(""))

	_, err := h.Execute(context.Background(), tab, ActionRequest{ActionID: "search"})
	ae, ok := AsActionError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnknownAction, ae.Code)
	assert.Equal(t, "Invalid action", ae.Error())
}
