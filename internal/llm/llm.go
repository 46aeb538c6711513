// Package llm generates exam questions from document text through an
// OpenAI-compatible chat completion API (Groq by default).
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/examgen/internal/llm/prompts"
	"github.com/pavelanni/examgen/internal/model"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
)

// ErrInvalidResponse means the model answered but the content could not be
// turned into questions.
var ErrInvalidResponse = errors.New("invalid LLM response")

// ErrNoSpecs is returned when generation is requested without any question spec.
var ErrNoSpecs = errors.New("no question configuration")

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Retries is the number of attempts per generation request.
	Retries int
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     chatCompleter
	model   string
	retries int
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return newClient(openai.NewClientWithConfig(config), cfg)
}

func newClient(api chatCompleter, cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Client{
		api:     api,
		model:   cfg.Model,
		retries: cfg.Retries,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// GenerateQuestions asks the model for one question per spec, based only on
// sourceText. The response is repaired, validated and mapped to questions with
// ids of the form "gen-{unix-ms}-{i}".
func (c *Client) GenerateQuestions(ctx context.Context, sourceText string, specs []model.QuestionSpec) ([]model.Question, error) {
	if len(specs) == 0 {
		return nil, ErrNoSpecs
	}
	specs, err := NormalizeSpecs(specs)
	if err != nil {
		return nil, err
	}
	prompt, err := prompts.BuildGeneratePrompt(sourceText, specs)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "generation prompt built",
		"source_chars", len(sourceText), "questions", len(specs), "prompt_chars", len(prompt))

	raw, err := c.completeWithRetry(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
		TopP:        0.9,
	})
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "LLM response", "chars", len(raw))

	cleaned, err := repairJSON(raw)
	if err != nil {
		return nil, err
	}
	return parseQuestions(cleaned, specs, c.now())
}

// completeWithRetry retries failed calls with exponential backoff: 2s, 4s, 8s
// between attempts, and a doubled wait after a rate limit.
func (c *Client) completeWithRetry(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	var lastErr error
	for i := 0; i < c.retries; i++ {
		text, err := c.complete(ctx, req)
		if err == nil {
			if i > 0 {
				slog.InfoContext(ctx, "LLM call succeeded after retry", "attempt", i+1)
			}
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		slog.WarnContext(ctx, "LLM call failed", "attempt", i+1, "of", c.retries, "error", err)

		if i == c.retries-1 {
			break
		}
		wait := time.Duration(1<<(i+1)) * time.Second
		if isRateLimit(err) {
			wait *= 2
		}
		if err := c.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("LLM API call failed after %d attempts: %w", c.retries, lastErr)
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("LLM returned an empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PingResult is the outcome of a connectivity check.
type PingResult struct {
	Response         string `json:"response"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	TotalTokens      int    `json:"totalTokens"`
}

// Ping sends a trivial prompt to verify the endpoint, key and model.
func (c *Client) Ping(ctx context.Context) (*PingResult, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Responde exactamente lo que se te pide, sin agregar texto adicional."},
			{Role: openai.ChatMessageRoleUser, Content: "Di solo 'Hola desde GROQ' y nada más"},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM ping: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM ping: no choices")
	}
	return &PingResult{
		Response:         strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:            c.model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}
