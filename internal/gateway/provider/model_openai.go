package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// OpenAIChatClient speaks the OpenAI-compatible /chat/completions protocol
// (OpenAI, DeepSeek, Qwen and most gateways).
type OpenAIChatClient struct {
	Name         string
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxRetries   int
	Temperature  float64
	ExtraHeaders map[string]string
}

func (c *OpenAIChatClient) ID() string {
	if c.Name != "" {
		return c.Name
	}
	return "openai:" + c.Model
}

func (c *OpenAIChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := c.MaxRetries
	if retries == 0 {
		retries = defaultMaxRetries
	}
	url := normalizeBase(c.BaseURL, "https://api.openai.com/v1", "/chat/completions")

	messages := make([]message, 0, 2)
	if system != "" {
		messages = append(messages, message{Role: "system", Content: system})
	}
	messages = append(messages, message{Role: "user", Content: user})
	body, err := json.Marshal(map[string]any{"model": c.Model, "messages": messages, "temperature": c.Temperature})
	if err != nil {
		return "", err
	}
	headers := map[string]string{}
	if c.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.APIKey
	}
	for k, v := range c.ExtraHeaders {
		headers[k] = v
	}
	data, err := postJSON(ctx, &http.Client{Timeout: timeout}, url, headers, body, retries, "error.message")
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.ID(), err)
	}
	content := gjson.GetBytes(data, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("%s: empty choices", c.ID())
	}
	return content.String(), nil
}
