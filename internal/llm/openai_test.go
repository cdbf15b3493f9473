package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/repopilot/internal/logging"
)

// scriptedModel fails with the queued errors before answering.
type scriptedModel struct {
	errs  []error
	reply string
	calls int
}

func (m *scriptedModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *scriptedModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func newTestClient(m llms.Model) *OpenAI {
	return &OpenAI{
		model:     m,
		modelName: "test-model",
		retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			sleep:       func(context.Context, time.Duration) error { return nil },
		},
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  logging.NewTestLogger().Logger,
	}
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	model := &scriptedModel{
		errs:  []error{errors.New("API returned unexpected status code: 429 Too Many Requests"), nil},
		reply: "answer",
	}
	c := newTestClient(model)

	got, err := c.Complete(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
	assert.Equal(t, 2, model.calls)
}

func TestCompleteFailsFastOnBadRequest(t *testing.T) {
	cause := errors.New("API returned unexpected status code: 400 Bad Request")
	model := &scriptedModel{errs: []error{cause, cause, cause}}
	c := newTestClient(model)

	_, err := c.Complete(context.Background(), "sys", "prompt")
	require.Error(t, err)
	assert.Equal(t, 1, model.calls)

	var retryErr *RetryError
	assert.False(t, errors.As(err, &retryErr), "fatal API errors must not exhaust attempts")
}

func TestCompleteExhaustsTransientFailures(t *testing.T) {
	cause := errors.New("API returned unexpected status code: 503 Service Unavailable")
	model := &scriptedModel{errs: []error{cause, cause, cause}}
	c := newTestClient(model)

	_, err := c.Complete(context.Background(), "sys", "prompt")
	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 3, retryErr.Attempts)
	assert.Equal(t, 3, model.calls)
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("API returned unexpected status code: 429 Too Many Requests"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("API returned unexpected status code: 502 Bad Gateway"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("API returned unexpected status code: 401 Unauthorized"), false},
		{errors.New("API returned unexpected status code: 400 Bad Request"), false},
		{errors.New("invalid request: model not found"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, retryable(tc.err), tc.err.Error())
	}
}

func TestCompleteJSONDecodesFencedResponse(t *testing.T) {
	model := &scriptedModel{reply: "```json\n{\"value\": 7}\n```"}
	c := newTestClient(model)

	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, c.CompleteJSON(context.Background(), "sys", "prompt", &out))
	assert.Equal(t, 7, out.Value)
}
