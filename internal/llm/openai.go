package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/repopilot/internal/config"
	"github.com/fyrsmithlabs/repopilot/internal/logging"
)

// OpenAI is a reasoning client backed by an OpenAI-compatible endpoint.
type OpenAI struct {
	model       llms.Model
	modelName   string
	temperature float64
	maxTokens   int
	retry       RetryConfig
	limiter     *rate.Limiter
	logger      *logging.Logger
}

// NewOpenAI builds the client from configuration. The base URL is
// optional and allows pointing at compatible local endpoints.
func NewOpenAI(cfg config.ReasoningConfig, logger *logging.Logger) (*OpenAI, error) {
	if !cfg.APIKey.IsSet() {
		return nil, errors.New("reasoning api_key is required")
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating reasoning client: %w", err)
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 1
	}
	return &OpenAI{
		model:       model,
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		retry: RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay.Duration(),
			MaxDelay:    cfg.MaxDelay.Duration(),
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}, nil
}

// Complete implements Client.
func (c *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	return c.generate(ctx, system, prompt, false)
}

// CompleteJSON implements Client.
func (c *OpenAI) CompleteJSON(ctx context.Context, system, prompt string, out any) error {
	raw, err := c.generate(ctx, system, prompt, true)
	if err != nil {
		return err
	}
	return decodeJSONResponse(raw, out)
}

func (c *OpenAI) generate(ctx context.Context, system, prompt string, jsonMode bool) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	callOpts := []llms.CallOption{
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	}
	if jsonMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	return CallWithRetry(ctx, c.retry, func(ctx context.Context) (string, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", Permanent(err)
		}
		resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			c.logger.Warn(ctx, "reasoning call failed",
				zap.String("model", c.modelName),
				zap.Error(err),
			)
			if !retryable(err) {
				err = Permanent(err)
			}
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("empty response from model")
		}
		return resp.Choices[0].Content, nil
	})
}

// retryable reports whether a failed reasoning call is worth another
// attempt. Rate limiting and transient transport or server failures
// retry; bad requests, auth failures and the like fail immediately.
func retryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "rate_limit",
		"500", "502", "503", "504",
		"timeout", "connection reset", "connection refused", "unexpected eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
