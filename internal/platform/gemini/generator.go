package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SteveJiangWorkPlace/otium/internal/config"
	"github.com/SteveJiangWorkPlace/otium/internal/task"
	"google.golang.org/genai"
)

// Generation errors. Message wording matters: the task engine classifies
// failures by substring, and these must land in the permanent bucket.
var (
	// ErrInvalidConfig indicates missing or malformed generator configuration.
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrEmptyPrompt indicates a generation payload without a usable prompt.
	ErrEmptyPrompt = errors.New("invalid generation payload: prompt is empty")
)

// generationRequest is the payload schema for generation tasks.
type generationRequest struct {
	Prompt string `json:"prompt"`
}

// generationResult is the result payload written on success.
type generationResult struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// GeminiGenerator produces text completions through Google's Gemini API and
// exposes them as a task handler.
type GeminiGenerator struct {
	logger *slog.Logger
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a GeminiGenerator from the LLM configuration.
// Returns ErrInvalidConfig when the API key or model name is missing.
func NewGeminiGenerator(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.LLMConfig,
) (*GeminiGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return &GeminiGenerator{
		logger: logger,
		client: client,
		model:  cfg.ModelName,
	}, nil
}

// Handler returns the task handler for generation tasks. The handler does not
// retry internally: transient API failures propagate to the task engine, which
// owns the backoff schedule.
func (g *GeminiGenerator) Handler() task.Handler {
	return func(ctx context.Context, payload json.RawMessage, progress *task.Progress) (json.RawMessage, error) {
		prompt, err := parsePrompt(payload)
		if err != nil {
			return nil, err
		}

		progress.SetTotalSteps(ctx, 2)
		progress.IncrementStep(ctx, "calling model", nil)

		g.logger.DebugContext(ctx, "calling gemini",
			"model", g.model,
			"prompt_length", len(prompt))

		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
		if err != nil {
			return nil, fmt.Errorf("gemini generation failed: %w", err)
		}

		text := resp.Text()
		if text == "" {
			// An empty completion usually means safety filtering; retrying
			// the same prompt will not help.
			return nil, errors.New("gemini returned an empty completion, prompt unsupported")
		}

		progress.IncrementStep(ctx, "packaging result", nil)

		result, err := json.Marshal(generationResult{Text: text, Model: g.model})
		if err != nil {
			return nil, fmt.Errorf("failed to encode generation result: %w", err)
		}
		return result, nil
	}
}

// parsePrompt decodes and validates a generation payload.
func parsePrompt(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPrompt
	}

	var req generationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", fmt.Errorf("malformed generation payload: %w", err)
	}
	if req.Prompt == "" {
		return "", ErrEmptyPrompt
	}
	return req.Prompt, nil
}
