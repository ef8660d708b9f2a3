package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/answercache/pkg/observability"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusRequestTimeout, KindTimeout},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusInternalServerError, KindServer},
		{http.StatusBadGateway, KindServer},
		{http.StatusBadRequest, KindInvalidRequest},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindForStatus(tt.status), "status %d", tt.status)
	}
}

func TestError(t *testing.T) {
	err := error(&Error{Kind: KindServer, StatusCode: 503, Err: errors.New("unavailable")})
	wrapped := errors.Join(errors.New("context"), err)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindServer, kind)
	assert.True(t, IsRetryable(wrapped))
	assert.Contains(t, err.Error(), "status 503")

	assert.False(t, IsRetryable(&Error{Kind: KindAuth}))
	assert.False(t, IsRetryable(&Error{Kind: KindTimeout}))
	assert.False(t, IsRetryable(errors.New("plain")))
	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func chatHandler(t *testing.T, status int, body string, seen *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen.Add(1)
		}
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

const okBody = `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"message":{"role":"assistant","content":"Folosește ulei de cocos."},"finish_reason":"stop"}],
"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`

func newTestOpenAI(t *testing.T, url string, timeout time.Duration) *OpenAI {
	t.Helper()
	cfg := DefaultOpenAIConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = url + "/v1"
	cfg.Timeout = timeout
	o, err := NewOpenAI(cfg, observability.NewNoopLogger())
	require.NoError(t, err)
	return o
}

func TestOpenAI_Generate(t *testing.T) {
	var gotSystem, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		gotSystem, gotUser = body.Messages[0].Content, body.Messages[1].Content
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	o := newTestOpenAI(t, srv.URL, time.Second)
	gen, err := o.Generate(context.Background(), Request{
		SubjectID:      "r1",
		Question:       "Cu ce pot înlocui untul?",
		SubjectContext: "Tartă cu mere: 100 g unt",
	})
	require.NoError(t, err)
	assert.Equal(t, "Folosește ulei de cocos.", gen.Content)
	assert.Equal(t, "gpt-4o-mini", gen.Model)
	assert.Equal(t, "stop", gen.FinishReason)
	require.NotNil(t, gen.Usage)
	assert.Equal(t, 15, gen.Usage.TotalTokens)

	assert.Equal(t, "Cu ce pot înlocui untul?", gotUser)
	assert.True(t, strings.HasSuffix(gotSystem, "Tartă cu mere: 100 g unt"))
}

func TestOpenAI_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"auth", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`, KindAuth},
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests"}}`, KindRateLimit},
		{"server json", http.StatusInternalServerError, `{"error":{"message":"oops","type":"server_error"}}`, KindServer},
		{"server html", http.StatusBadGateway, `<html>bad gateway</html>`, KindServer},
		{"invalid", http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error"}}`, KindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(chatHandler(t, tt.status, tt.body, nil))
			defer srv.Close()

			_, err := newTestOpenAI(t, srv.URL, time.Second).Generate(context.Background(), Request{Question: "q"})
			require.Error(t, err)
			var be *Error
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.kind, be.Kind)
			assert.Equal(t, tt.status, be.StatusCode)
		})
	}
}

func TestOpenAI_TransportFailures(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()

		_, err := newTestOpenAI(t, srv.URL, 20*time.Millisecond).Generate(context.Background(), Request{Question: "q"})
		kind, ok := KindOf(err)
		require.True(t, ok, "unclassified error %v", err)
		assert.Equal(t, KindTimeout, kind)
	})

	t.Run("network", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := newTestOpenAI(t, url, time.Second).Generate(context.Background(), Request{Question: "q"})
		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, KindNetwork, kind)
	})
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI(DefaultOpenAIConfig(), observability.NewNoopLogger())
	assert.Error(t, err)
}

// scripted fails with the given errors in order, then succeeds
type scripted struct {
	calls atomic.Int32
	errs  []error
}

func (s *scripted) Generate(context.Context, Request) (*Generation, error) {
	n := int(s.calls.Add(1))
	if n <= len(s.errs) {
		return nil, s.errs[n-1]
	}
	return &Generation{Content: "ok"}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetrying(t *testing.T) {
	server := &Error{Kind: KindServer, StatusCode: 500, Err: errors.New("boom")}
	network := &Error{Kind: KindNetwork, Err: errors.New("reset")}

	t.Run("recovers from transient failures", func(t *testing.T) {
		next := &scripted{errs: []error{server, network}}
		gen, err := NewRetrying(next, fastRetry(), observability.NewNoopLogger()).Generate(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok", gen.Content)
		assert.Equal(t, int32(3), next.calls.Load())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		next := &scripted{errs: []error{server, server, server, server}}
		_, err := NewRetrying(next, fastRetry(), observability.NewNoopLogger()).Generate(context.Background(), Request{})
		require.Error(t, err)
		assert.ErrorIs(t, err, server)
		assert.Equal(t, int32(3), next.calls.Load())
	})

	for _, kind := range []Kind{KindAuth, KindTimeout, KindRateLimit, KindInvalidRequest} {
		t.Run("does not retry "+string(kind), func(t *testing.T) {
			failure := &Error{Kind: kind, Err: errors.New("no")}
			next := &scripted{errs: []error{failure}}
			_, err := NewRetrying(next, fastRetry(), observability.NewNoopLogger()).Generate(context.Background(), Request{})
			kindOf, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, kind, kindOf)
			assert.Equal(t, int32(1), next.calls.Load())
		})
	}

	t.Run("does not retry unclassified errors", func(t *testing.T) {
		next := &scripted{errs: []error{errors.New("mystery")}}
		_, err := NewRetrying(next, fastRetry(), observability.NewNoopLogger()).Generate(context.Background(), Request{})
		require.Error(t, err)
		assert.Equal(t, int32(1), next.calls.Load())
	})
}

func TestBreaker(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.MinRequests = 3
	cfg.Timeout = time.Hour

	t.Run("opens after server failures", func(t *testing.T) {
		failure := &Error{Kind: KindServer, Err: errors.New("down")}
		next := &scripted{errs: []error{failure, failure, failure, failure}}
		b := NewBreaker(next, cfg, observability.NewNoopLogger())

		for i := 0; i < 3; i++ {
			_, err := b.Generate(context.Background(), Request{})
			require.ErrorIs(t, err, failure)
		}
		assert.Equal(t, "open", b.State())

		_, err := b.Generate(context.Background(), Request{})
		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, KindServer, kind)
		assert.Equal(t, int32(3), next.calls.Load(), "open breaker must not call the backend")
	})

	t.Run("caller faults do not trip", func(t *testing.T) {
		auth := &Error{Kind: KindAuth, Err: errors.New("bad key")}
		next := &scripted{errs: []error{auth, auth, auth, auth}}
		b := NewBreaker(next, cfg, observability.NewNoopLogger())

		for i := 0; i < 4; i++ {
			_, err := b.Generate(context.Background(), Request{})
			require.ErrorIs(t, err, auth)
		}
		assert.Equal(t, "closed", b.State())
		gen, err := b.Generate(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok", gen.Content)
	})
}

func TestPaced(t *testing.T) {
	next := &scripted{}
	p := NewPaced(next, 1, 1)

	_, err := p.Generate(context.Background(), Request{})
	require.NoError(t, err)

	// The bucket is empty; a deadline shorter than the refill fails fast
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Generate(ctx, Request{})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, kind)
	assert.Equal(t, int32(1), next.calls.Load())

	unlimited := NewPaced(next, 0, 0)
	for i := 0; i < 5; i++ {
		_, err := unlimited.Generate(context.Background(), Request{})
		require.NoError(t, err)
	}
}

func TestGeneratorFunc(t *testing.T) {
	g := GeneratorFunc(func(_ context.Context, req Request) (*Generation, error) {
		return &Generation{Content: "echo " + req.Question}, nil
	})
	gen, err := g.Generate(context.Background(), Request{Question: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo hi", gen.Content)
}
