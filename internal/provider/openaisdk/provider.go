// Package openaisdk implements provider.Transport on top of the
// github.com/sashabaranov/go-openai client.
package openaisdk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"casefile/internal/config"
	"casefile/internal/faults"
	"casefile/internal/models"
)

// Provider sends chat completions through go-openai.
type Provider struct {
	name   string
	client *openai.Client
	models []models.Model
}

// New creates a go-openai backed provider. An empty base URL keeps the
// library default.
func New(name string, cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("api key must not be empty")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if baseURL := strings.TrimRight(cfg.BaseURL, "/"); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	clientCfg.HTTPClient = withHeaders(client, cfg.Headers)

	modelsList := make([]models.Model, 0, len(cfg.Models))
	for _, id := range cfg.Models {
		modelsList = append(modelsList, models.Model{ID: id, Provider: name})
	}

	return &Provider{
		name:   name,
		client: openai.NewClientWithConfig(clientCfg),
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

// Send maps the shaped body onto a go-openai request. The library drops a
// zero temperature from the wire, which leaves the provider default.
func (p *Provider) Send(ctx context.Context, body models.RequestBody) (*models.Completion, error) {
	resp, err := p.client.CreateChatCompletion(ctx, toRequest(body))
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &faults.ProviderError{Status: faults.StatusEmptyCompletion, HTTPStatus: http.StatusOK}
	}

	choice := resp.Choices[0]
	return &models.Completion{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func toRequest(body models.RequestBody) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(body.Messages))
	for _, msg := range body.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    body.Model,
		Messages: messages,
	}
	if body.Temperature != nil {
		req.Temperature = float32(*body.Temperature)
		if req.Temperature == 0 {
			// go-openai omits a zero temperature; the API default is 1.
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if body.MaxTokens != nil {
		req.MaxTokens = *body.MaxTokens
	}
	if body.MaxCompletionTokens != nil {
		req.MaxCompletionTokens = *body.MaxCompletionTokens
	}
	if body.ResponseFormat != nil && body.ResponseFormat.Type == string(openai.ChatCompletionResponseFormatTypeJSONObject) {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

// classify converts go-openai errors into the shared taxonomy. Transport
// failures are returned unchanged for the timeout decorator to inspect.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &faults.ProviderError{
			Status:     apiErr.HTTPStatusCode,
			HTTPStatus: apiErr.HTTPStatusCode,
			Body:       apiErr.Message,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &faults.ProviderError{
			Status:     reqErr.HTTPStatusCode,
			HTTPStatus: reqErr.HTTPStatusCode,
			Body:       body,
		}
	}
	return fmt.Errorf("openaisdk chat request failed: %w", err)
}

// headerTransport adds static headers to every outbound request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func withHeaders(client *http.Client, headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return client
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = headerTransport{base: base, headers: headers}
	return &wrapped
}
