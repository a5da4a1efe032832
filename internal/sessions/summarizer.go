package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	openai "github.com/meguminnnnnnnnn/go-openai"
)

const (
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultOpenAIModel    = "gpt-4o-mini"
	summaryMaxTokens      = 400
)

const summaryPrompt = `You summarize a developer's coding session with an AI assistant.
Reply with JSON only, in the form {"summary": "...", "features": ["...", "..."]}.
"summary" is one or two sentences about what was done.
"features" lists at most three short titles (under eight words each) for the work, most likely first.`

// Digest is what a Summarizer extracts from a transcript
type Digest struct {
	Summary  string   `json:"summary"`
	Features []string `json:"features"`
}

// Summarizer condenses a rendered transcript
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (Digest, error)
}

// NewSummarizer returns the summarizer for provider ("anthropic" or
// "openai"). An empty provider or API key returns nil.
func NewSummarizer(provider, model, apiKey string) (Summarizer, error) {
	if provider == "" || apiKey == "" {
		return nil, nil
	}

	switch strings.ToLower(provider) {
	case "anthropic":
		if model == "" {
			model = defaultAnthropicModel
		}
		return &AnthropicSummarizer{client: anthropic.NewClient(apiKey), model: model}, nil
	case "openai":
		if model == "" {
			model = defaultOpenAIModel
		}
		config := openai.DefaultConfig(apiKey)
		return &OpenAISummarizer{client: openai.NewClientWithConfig(config), model: model}, nil
	}
	return nil, fmt.Errorf("unknown summarizer provider %q", provider)
}

// AnthropicSummarizer calls the Anthropic messages API
type AnthropicSummarizer struct {
	client *anthropic.Client
	model  string
}

func (s *AnthropicSummarizer) Summarize(ctx context.Context, transcript string) (Digest, error) {
	temperature := float32(0.1)
	req := anthropic.MessagesRequest{
		Model:  anthropic.Model(s.model),
		System: summaryPrompt,
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(transcript)},
		}},
		MaxTokens:   summaryMaxTokens,
		Temperature: &temperature,
	}

	resp, err := s.client.CreateMessages(ctx, req)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to summarize conversation: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}
	return parseDigest(text.String())
}

// OpenAISummarizer calls the chat completions API
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript string) (Digest, error) {
	temperature := float32(0.1)
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
		MaxTokens:   summaryMaxTokens,
		Temperature: &temperature,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to summarize conversation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Digest{}, fmt.Errorf("empty response from OpenAI")
	}
	return parseDigest(resp.Choices[0].Message.Content)
}

// parseDigest pulls the JSON object out of a model reply, tolerating code
// fences or prose around it
func parseDigest(text string) (Digest, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Digest{}, fmt.Errorf("no JSON object in summary reply")
	}

	var d Digest
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return Digest{}, fmt.Errorf("failed to decode summary reply: %w", err)
	}

	d.Summary = strings.TrimSpace(d.Summary)
	var features []string
	for _, f := range d.Features {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}
	d.Features = features
	return d, nil
}
