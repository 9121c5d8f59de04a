// Package llm abstracts the chat-completion capability so the planner and
// summarizer can be tested with fakes and the vendor swapped behind one type.
package llm

import (
	"context"
	"errors"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// ChatCompletion is the single capability the pipeline needs from an LLM
// vendor: one system message, one user message, one text reply.
type ChatCompletion interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type OpenAI struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	temperature float64
	maxTokens   int64
}

// NewOpenAI builds a client for model. A client-side timeout bounds every
// call regardless of the caller's context; baseURL is optional.
func NewOpenAI(apiKey, baseURL, model string, timeout time.Duration) *OpenAI {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       model,
		timeout:     timeout,
		temperature: 0.2,
		maxTokens:   2000,
	}
}

func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens:   openai.Int(o.maxTokens),
		Temperature: openai.Float(o.temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
