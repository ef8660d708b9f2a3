package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/developer-mesh/answercache/pkg/observability"
)

const defaultSystemPrompt = "Ești un asistent culinar. Răspunde scurt și concret, în limba întrebării, " +
	"folosind doar informațiile despre rețetă atunci când sunt relevante."

// OpenAIConfig configures the OpenAI chat completion adapter
type OpenAIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SystemPrompt string        `mapstructure:"system_prompt"`
}

// DefaultOpenAIConfig returns defaults without credentials
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:       openai.GPT4oMini,
		MaxTokens:   400,
		Temperature: 0.3,
		Timeout:     30 * time.Second,
	}
}

// OpenAI is a Generator backed by the chat completions API
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger observability.Logger
}

// NewOpenAI creates the adapter
func NewOpenAI(cfg OpenAIConfig, logger observability.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if logger == nil {
		logger = observability.NewLogger("answer.backend.openai")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	logger.Info("Initializing OpenAI backend", map[string]interface{}{
		"model": cfg.Model,
	})
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), cfg: cfg, logger: logger}, nil
}

// Generate implements Generator
func (o *OpenAI) Generate(ctx context.Context, req Request) (gen *Generation, err error) {
	ctx, span := observability.StartSpan(ctx, "answer.backend.generate")
	defer span.End()
	defer func() {
		observe(err)
		if err != nil {
			span.RecordError(err)
		}
	}()

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	system := o.cfg.SystemPrompt
	if c := strings.TrimSpace(req.SubjectContext); c != "" {
		system += "\n\nRețeta:\n" + c
	}
	chatReq := openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Question},
		},
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		classified := classifyOpenAI(err)
		o.logger.Warn("OpenAI call failed", map[string]interface{}{
			"kind":   string(classified.Kind),
			"status": classified.StatusCode,
			"error":  err.Error(),
		})
		return nil, classified
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindServer, Err: errors.New("no choices returned")}
	}

	choice := resp.Choices[0]
	span.SetAttribute("finish_reason", string(choice.FinishReason))
	return &Generation{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

func classifyOpenAI(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &Error{Kind: KindForStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &Error{Kind: KindForStatus(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return classifyTransport(fmt.Errorf("openai: %w", err))
}
