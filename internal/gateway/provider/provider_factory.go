package provider

import (
	"fmt"
	"strings"
	"time"

	"tradeengine/internal/logger"
)

type ModelCfg struct {
	ID, Provider, APIURL, APIKey, Model string
	Headers                             map[string]string
	Timeout                             time.Duration
}

// Build returns the client for cfg.Provider ("openai" or "anthropic").
func Build(cfg ModelCfg) (Completer, error) {
	id := strings.TrimSpace(cfg.ID)
	kind := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if kind == "" {
		kind = "openai"
	}
	if id == "" {
		id = kind
		if m := strings.TrimSpace(cfg.Model); m != "" {
			id = fmt.Sprintf("%s:%s", kind, m)
		}
		logger.Debugf("ai provider id not configured, using %s", id)
	}
	switch kind {
	case "openai", "deepseek", "qwen":
		return &OpenAIChatClient{
			Name:         id,
			BaseURL:      cfg.APIURL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			Timeout:      cfg.Timeout,
			Temperature:  0.2,
			ExtraHeaders: cfg.Headers,
		}, nil
	case "anthropic", "claude":
		return &AnthropicClient{
			Name:    id,
			BaseURL: cfg.APIURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
