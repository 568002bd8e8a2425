// Package completion produces assistant replies for the chat endpoint and the
// job workers.
package completion

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/suPer8Hu/keystone/internal/ai"
	"github.com/suPer8Hu/keystone/internal/metrics"
)

var ErrEmptyMessage = errors.New("message must not be empty")

const maxMessageLen = 32 << 10

const SystemPrompt = `You are Keystone, an assistant for authorized security testing and defensive security work.
Answer concisely. Prefer concrete commands, tool flags and configuration snippets over general advice.
Assume the user has permission for the systems they mention. Refuse requests aimed at systems the user does not control.`

type Service struct {
	provider     ai.Provider
	providerName string
	prompt       string
	timeout      time.Duration
	window       int
	rec          metrics.Recorder
	logger       *slog.Logger
}

type Option func(*Service)

func WithSystemPrompt(p string) Option { return func(s *Service) { s.prompt = p } }

func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// WithHistoryWindow caps how many earlier chat messages accompany a prompt.
func WithHistoryWindow(n int) Option { return func(s *Service) { s.window = n } }

func WithRecorder(r metrics.Recorder) Option { return func(s *Service) { s.rec = r } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(providerName string, p ai.Provider, opts ...Option) *Service {
	s := &Service{
		provider:     p,
		providerName: providerName,
		prompt:       SystemPrompt,
		timeout:      90 * time.Second,
		window:       20,
		rec:          metrics.Nop{},
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Complete answers a single user message starting from the system prompt.
func (s *Service) Complete(ctx context.Context, message string) (string, error) {
	return s.CompleteWithHistory(ctx, nil, message)
}

// CompleteWithHistory answers message in the context of earlier turns. Only
// the last window turns are sent; a trailing user turn equal to message is
// dropped since message is appended anyway.
func (s *Service) CompleteWithHistory(ctx context.Context, history []ai.Message, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	if len(message) > maxMessageLen {
		message = message[:maxMessageLen]
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	history = s.trim(history, message)
	msgs := make([]ai.Message, 0, len(history)+2)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: s.prompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: message})

	start := time.Now()
	reply, err := s.provider.Chat(ctx, msgs)
	cost := time.Since(start)
	s.rec.RecordCompletion(s.providerName, cost, err)
	if err != nil {
		s.logger.Error("completion failed",
			slog.String("provider", s.providerName),
			slog.Duration("cost", cost),
			slog.Any("error", err),
		)
		return "", err
	}
	if cost > 10*time.Second {
		s.logger.Warn("slow completion",
			slog.String("provider", s.providerName),
			slog.Duration("cost", cost),
		)
	}
	return strings.TrimSpace(reply), nil
}

func (s *Service) trim(history []ai.Message, message string) []ai.Message {
	if n := len(history); n > 0 && history[n-1].Role == ai.RoleUser && history[n-1].Content == message {
		history = history[:n-1]
	}
	if s.window <= 0 {
		return nil
	}
	if len(history) > s.window {
		history = history[len(history)-s.window:]
	}
	return history
}
