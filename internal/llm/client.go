package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/flitsinc/go-llms/anthropic"
	"github.com/flitsinc/go-llms/content"
	"github.com/flitsinc/go-llms/google"
	"github.com/flitsinc/go-llms/llms"
	"github.com/flitsinc/go-llms/openai"
)

type Config struct {
	Provider string
	Model    string
	APIKey   string
}

// Client invokes a go-llms provider and collects the streamed text into one
// response string.
type Client struct {
	config Config
}

func NewClient(cfg Config) (*Client, error) {
	// Validate eagerly so a misconfigured session fails before any step.
	if _, err := newLLM(cfg); err != nil {
		return nil, err
	}
	return &Client{config: cfg}, nil
}

func (c *Client) Invoke(ctx context.Context, prompt string) (string, error) {
	return c.InvokeMessages(ctx, []Message{{Role: "user", Content: prompt}})
}

func (c *Client) InvokeMessages(ctx context.Context, messages []Message) (string, error) {
	model, err := newLLM(c.config)
	if err != nil {
		return "", err
	}

	converted := make([]llms.Message, 0, len(messages))
	for _, msg := range messages {
		m := llms.Message{Content: content.FromText(msg.Content)}
		switch msg.Role {
		case "assistant":
			m.Role = "assistant"
		case "system":
			m.Role = "system"
		default:
			m.Role = "user"
		}
		converted = append(converted, m)
	}

	var output strings.Builder
	updates := model.ChatUsingMessages(ctx, converted)
	for update := range updates {
		if textUpdate, ok := update.(llms.TextUpdate); ok {
			output.WriteString(textUpdate.Text)
		}
	}
	if err := model.Err(); err != nil {
		return "", fmt.Errorf("model invocation: %w", err)
	}
	return output.String(), nil
}

func newLLM(cfg Config) (*llms.LLM, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}

	var provider llms.Provider
	switch cfg.Provider {
	case "openai", "openai-responses":
		provider = openai.NewResponsesAPI(cfg.APIKey, cfg.Model)
	case "openai-chat":
		provider = openai.NewChatCompletionsAPI(cfg.APIKey, cfg.Model)
	case "anthropic":
		model := anthropic.New(cfg.APIKey, cfg.Model)
		model.WithMaxTokens(62976)
		provider = model
	case "google":
		provider = google.New(cfg.Model).WithGeminiAPI(cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return llms.New(provider), nil
}
