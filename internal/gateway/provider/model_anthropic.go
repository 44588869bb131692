package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient calls the Messages API.
type AnthropicClient struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
}

func (c *AnthropicClient) ID() string {
	if c.Name != "" {
		return c.Name
	}
	return "anthropic:" + c.Model
}

func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := c.MaxRetries
	if retries == 0 {
		retries = defaultMaxRetries
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	url := normalizeBase(c.BaseURL, "https://api.anthropic.com/v1", "/messages")
	req := map[string]any{
		"model":      c.Model,
		"max_tokens": maxTokens,
		"messages":   []message{{Role: "user", Content: user}},
	}
	if system != "" {
		req["system"] = system
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	headers := map[string]string{"x-api-key": c.APIKey, "anthropic-version": anthropicVersion}
	data, err := postJSON(ctx, &http.Client{Timeout: timeout}, url, headers, body, retries, "error.message")
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.ID(), err)
	}
	var parts []string
	for _, block := range gjson.GetBytes(data, `content.#(type=="text")#.text`).Array() {
		parts = append(parts, block.String())
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%s: empty content", c.ID())
	}
	return strings.Join(parts, ""), nil
}
