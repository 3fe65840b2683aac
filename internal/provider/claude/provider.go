package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"casefile/internal/config"
	"casefile/internal/faults"
	"casefile/internal/models"
)

// maxTemperature is the upper bound the Messages API accepts.
const maxTemperature = 1.0

// Provider implements provider.Transport for the Anthropic Messages API.
type Provider struct {
	name   string
	client anthropic.Client
	models []models.Model
}

// New constructs a Claude provider. The SDK's own retries are disabled; the
// caller's retry policy owns that concern.
func New(name string, cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("api key must not be empty")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(client),
	}
	if baseURL := strings.TrimRight(cfg.BaseURL, "/"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	modelsList := make([]models.Model, 0, len(cfg.Models))
	for _, id := range cfg.Models {
		modelsList = append(modelsList, models.Model{ID: id, Provider: name})
	}

	return &Provider{
		name:   name,
		client: anthropic.NewClient(opts...),
		models: modelsList,
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) ListModels(ctx context.Context) ([]models.Model, error) {
	result := make([]models.Model, len(p.models))
	copy(result, p.models)
	return result, nil
}

// Send maps the shaped body onto a Messages API call. System messages become
// the system prompt and the length limit becomes max_tokens.
func (p *Provider) Send(ctx context.Context, body models.RequestBody) (*models.Completion, error) {
	params, err := buildParams(body)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &faults.ProviderError{
				Status:     apiErr.StatusCode,
				HTTPStatus: apiErr.StatusCode,
				Body:       apiErr.Error(),
			}
		}
		return nil, fmt.Errorf("claude messages request failed: %w", err)
	}

	var text strings.Builder
	found := false
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
			found = true
		}
	}
	if !found {
		return nil, &faults.ProviderError{Status: faults.StatusEmptyCompletion, HTTPStatus: http.StatusOK}
	}

	return &models.Completion{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Content:      text.String(),
		FinishReason: string(msg.StopReason),
		Usage: models.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

func buildParams(body models.RequestBody) (anthropic.MessageNewParams, error) {
	var systemParts []string
	messages := make([]anthropic.MessageParam, 0, len(body.Messages))

	for _, msg := range body.Messages {
		switch msg.Role {
		case models.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case models.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case models.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			return anthropic.MessageNewParams{}, faults.InvalidRequest("claude provider does not support role %q", msg.Role)
		}
	}

	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, faults.InvalidRequest("claude request requires at least one user message")
	}
	if body.Messages[firstTurn(body.Messages)].Role != models.RoleUser {
		return anthropic.MessageNewParams{}, faults.InvalidRequest("claude conversation must start with a user message")
	}

	maxTokens := body.LengthLimit()
	if maxTokens <= 0 {
		return anthropic.MessageNewParams{}, faults.InvalidRequest("claude requests require a positive max_tokens value")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(body.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(systemParts) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(systemParts, "\n\n")}}
	}
	if body.Temperature != nil {
		params.Temperature = anthropic.Float(min(*body.Temperature, maxTemperature))
	}
	return params, nil
}

// firstTurn returns the index of the first non-system message.
func firstTurn(messages []models.Message) int {
	for i, msg := range messages {
		if msg.Role != models.RoleSystem {
			return i
		}
	}
	return 0
}
