package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenRouterProvider calls an OpenAI-compatible /chat/completions endpoint.
type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	// optional attribution headers
	SiteURL string
	AppName string
	Client  *http.Client
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  strings.TrimSpace(apiKey),
		Model:   strings.TrimSpace(model),
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type completionReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type completionResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenRouterProvider) headers() (map[string]string, error) {
	switch {
	case p.Client == nil:
		return nil, errors.New("http client is nil")
	case p.APIKey == "":
		return nil, errors.New("api key is required")
	case p.Model == "":
		return nil, errors.New("model is required")
	}
	h := map[string]string{"Authorization": "Bearer " + p.APIKey}
	if p.SiteURL != "" {
		h["HTTP-Referer"] = p.SiteURL
	}
	if p.AppName != "" {
		h["X-Title"] = p.AppName
	}
	return h, nil
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	h, err := p.headers()
	if err != nil {
		return "", fmt.Errorf("openrouter: %w", err)
	}

	var out completionResp
	if err := postJSON(ctx, p.Client, p.BaseURL+"/chat/completions", h, completionReq{Model: p.Model, Messages: nonNil(messages)}, &out); err != nil {
		return "", fmt.Errorf("openrouter: %w", err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", fmt.Errorf("openrouter: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openrouter: empty response")
	}
	return out.Choices[0].Message.Content, nil
}
