package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "gpt-x", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL + "/v1/chat/completions/", APIKey: "sk-test", Model: "gpt-x"}
	out, err := c.Complete(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestOpenAIRetriesOnThrottle(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"busy"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL, Model: "m", MaxRetries: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := c.Complete(ctx, "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()
	c := &OpenAIChatClient{BaseURL: srv.URL, Model: "m"}
	_, err := c.Complete(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys", req["system"])
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"a"},{"type":"tool_use","id":"x"},{"type":"text","text":"b"}]}`))
	}))
	defer srv.Close()
	c := &AnthropicClient{BaseURL: srv.URL + "/v1", APIKey: "key", Model: "claude"}
	out, err := c.Complete(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ab", out)
}

func TestBuild(t *testing.T) {
	c, err := Build(ModelCfg{Provider: "anthropic", Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic:m1", c.ID())
	c, err = Build(ModelCfg{ID: "mine", Provider: ""})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIChatClient{}, c)
	assert.Equal(t, "mine", c.ID())
	_, err = Build(ModelCfg{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

type completerMock struct{ mock.Mock }

func (m *completerMock) ID() string { return "mock" }

func (m *completerMock) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

func TestBoosterBoundsValue(t *testing.T) {
	cm := &completerMock{}
	cm.On("Complete", mock.Anything, mock.Anything, mock.MatchedBy(func(u string) bool {
		return gjson.Get(u, "symbol").String() == "BTC/USDT"
	})).Return("Sure:\n```json\n{\"boost\": 0.4, \"reason\": \"trend aligned\"}\n```", nil)

	b, err := NewBooster(cm, 0.1)
	require.NoError(t, err)
	out, err := b.Boost(context.Background(), BoostRequest{Symbol: "BTC/USDT", Side: "BUY"})
	require.NoError(t, err)
	assert.Equal(t, 0.1, out.Value)
	assert.Equal(t, "trend aligned", out.Reason)
	assert.Equal(t, "mock", out.Model)
	cm.AssertExpectations(t)
}

func TestBoosterRejectsMalformed(t *testing.T) {
	b, err := NewBooster(&completerMock{}, 0.2)
	require.NoError(t, err)

	for _, reply := range []string{
		"no json here",
		`{"reason":"missing boost"}`,
		`{"boost": 3}`,
		`{"boost": "high"}`,
	} {
		_, err := b.parse(reply)
		assert.ErrorIs(t, err, ErrMalformedReply, reply)
	}
	out, err := b.parse(`{"boost": 0.05}`)
	require.NoError(t, err)
	assert.Equal(t, 0.05, out.Value)
}

func TestBoosterPropagatesProviderError(t *testing.T) {
	cm := &completerMock{}
	cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("timeout"))
	b, err := NewBooster(cm, 0.2)
	require.NoError(t, err)
	_, err = b.Boost(context.Background(), BoostRequest{})
	assert.EqualError(t, err, "timeout")
}

func TestMaskHeaders(t *testing.T) {
	m := maskHeaders(map[string]string{"Authorization": "Bearer abcdef", "X-Trace": "1", "x-api-key": "ab"})
	assert.Equal(t, "****cdef", m["Authorization"])
	assert.Equal(t, "1", m["X-Trace"])
	assert.Equal(t, "****", m["x-api-key"])
}
