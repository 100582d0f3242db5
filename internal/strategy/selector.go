package strategy

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tabrelay/internal/config"
)

// Selector maps a URL to the strategy that handles it. It holds only
// configuration and the two stateless strategies.
type Selector struct {
	chatDomains []string
	generic     *GenericHandler
	chat        *ChatHandler
}

// NewSelector builds the strategies from configuration.
func NewSelector(cfg config.StrategiesConfig, network config.NetworkConfig, logger *zap.Logger) *Selector {
	return &Selector{
		chatDomains: cfg.Chat.Domains,
		generic:     NewGenericHandler(cfg.Generic, network, logger),
		chat:        NewChatHandler(cfg.Chat, logger),
	}
}

// Select returns the chat strategy when url contains one of the configured
// chat domains, and the generic strategy otherwise.
func (s *Selector) Select(url string) Strategy {
	for _, d := range s.chatDomains {
		if d != "" && strings.Contains(url, d) {
			return s.chat
		}
	}
	return s.generic
}
