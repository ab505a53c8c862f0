package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// Client adapts an OpenAI-compatible endpoint to the ChatClient and
// EmbeddingClient contracts. Any server speaking the OpenAI wire format
// (OpenAI itself, LiteLLM, vLLM, local gateways) works unchanged.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	api            openai.Client
	defaultModel   string
	embeddingModel string
	logger         *slog.Logger

	// pacer smooths outbound request bursts toward the upstream. Nil when
	// no rate is configured.
	pacer *rate.Limiter

	// Health-check result cache. Best-effort with bounded staleness:
	// a stale entry costs at most one extra round-trip, never correctness.
	healthMu    sync.Mutex
	healthAt    time.Time
	healthOK    bool
	healthCount int
}

// ClientConfig configures the OpenAI-compatible adapter.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	DefaultModel   string
	EmbeddingModel string
	Timeout        time.Duration // per-request HTTP timeout (0 = SDK default)
	// MaxRequestRate caps outbound requests per second across all callers
	// of this client. Zero disables pacing.
	MaxRequestRate float64
	Logger         *slog.Logger
}

// healthCacheTTL bounds how often the models endpoint is polled.
const healthCacheTTL = 10 * time.Second

// NewClient creates an adapter for an OpenAI-compatible endpoint.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	c := &Client{
		api:            openai.NewClient(opts...),
		defaultModel:   cfg.DefaultModel,
		embeddingModel: cfg.EmbeddingModel,
		logger:         cfg.Logger,
	}
	if cfg.MaxRequestRate > 0 {
		c.pacer = rate.NewLimiter(rate.Limit(cfg.MaxRequestRate), 1)
	}

	c.logger.Info("ai client initialized",
		"base_url", cfg.BaseURL,
		"default_model", cfg.DefaultModel)
	return c, nil
}

// pace blocks until the outbound pacer admits another request.
func (c *Client) pace(ctx context.Context) error {
	if c.pacer == nil {
		return nil
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return wrapSDKError(err)
	}
	return nil
}

// Chat performs a non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: toSDKMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapSDKError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &UpstreamError{Status: 502, Body: "completion returned no choices"}
	}

	c.logger.Debug("chat completed",
		"model", resp.Model,
		"duration", time.Since(start),
		"response_length", len(resp.Choices[0].Message.Content))

	return &ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Generate is a convenience wrapper: single prompt (plus optional system
// prompt) to text.
func (c *Client) Generate(ctx context.Context, prompt, systemPrompt string, opts ChatRequest) (string, error) {
	var messages []Message
	if systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	opts.Messages = messages
	resp, err := c.Chat(ctx, opts)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Vision analyzes an image (URL or data URL) with a vision-capable model.
func (c *Client) Vision(ctx context.Context, imageURL, prompt, model string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}
	if err := c.pace(ctx); err != nil {
		return "", err
	}

	parts := []openai.ChatCompletionContentPartUnionParam{
		{OfImageURL: &openai.ChatCompletionContentPartImageParam{
			ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: imageURL},
		}},
		{OfText: &openai.ChatCompletionContentPartTextParam{Text: prompt}},
	}

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	})
	if err != nil {
		return "", wrapSDKError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &UpstreamError{Status: 502, Body: "vision completion returned no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed generates embeddings for each input, preserving order.
func (c *Client) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	model := req.Model
	if model == "" {
		model = c.embeddingModel
	}
	if model == "" {
		return nil, errors.New("embedding model is required")
	}
	if len(req.Input) == 0 {
		return &EmbedResponse{Model: model}, nil
	}
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: req.Input},
	})
	if err != nil {
		return nil, wrapSDKError(err)
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		embeddings[i] = vec
	}

	return &EmbedResponse{Embeddings: embeddings, Model: resp.Model}, nil
}

// Health reports whether the upstream endpoint answers the models listing.
// Results are cached for healthCacheTTL; pass force to bypass the cache.
func (c *Client) Health(ctx context.Context, force bool) (bool, error) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	if !force && time.Since(c.healthAt) < healthCacheTTL {
		return c.healthOK, nil
	}

	page, err := c.api.Models.List(ctx)
	c.healthAt = time.Now()
	if err != nil {
		c.healthOK = false
		c.healthCount = 0
		c.logger.Warn("health check failed", "error", err)
		return false, wrapSDKError(err)
	}

	c.healthOK = true
	c.healthCount = len(page.Data)
	return true, nil
}

// toSDKMessages converts transcript messages to SDK params. Tool-result
// messages are folded into user messages: the textual tool-call protocol
// never sends native tool roles upstream.
func toSDKMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case RoleTool:
			out = append(out, openai.UserMessage(fmt.Sprintf("[Tool: %s]\n%s", m.ToolCallID, m.Content)))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// wrapSDKError converts SDK errors into the package error taxonomy.
func wrapSDKError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &UpstreamError{Status: apiErr.StatusCode, Body: apiErr.Message}
	}
	return err
}
