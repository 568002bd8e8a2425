package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider calls a local Ollama server's /api/chat without streaming.
type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResp struct {
	Message Message `json:"message"`
	Error   string  `json:"error,omitempty"`
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}

	var out ollamaChatResp
	err := postJSON(ctx, p.Client, p.BaseURL+"/api/chat", nil, ollamaChatReq{Model: p.Model, Messages: nonNil(messages)}, &out)
	switch {
	case err != nil:
		return "", fmt.Errorf("ollama: %w", err)
	case out.Error != "":
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	return out.Message.Content, nil
}
