package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"aicore/internal/agent"
	"aicore/internal/ai"
	"aicore/internal/app"
	"aicore/internal/queue"
	"aicore/internal/vector"
)

var workerName string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a background task queue worker",
	Long: `worker consumes tasks from the durable queue and processes them until
interrupted. Supported task types: generate, embed, chat, vision.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerName, "name", "", "worker identity for claim tracking (default: generated)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.Setup(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}()

	if workerName == "" {
		workerName = "worker-" + uuid.NewString()[:8]
	}

	if healthy, err := a.AI.Health(ctx, true); err != nil || !healthy {
		slog.Warn("AI endpoint unhealthy at startup, tasks will retry", "error", err)
	}

	slog.Info("worker started", "name", workerName)
	if err := a.Queue.Consume(ctx, workerName, newTaskHandler(a)); err != nil && ctx.Err() == nil {
		return fmt.Errorf("consuming tasks: %w", err)
	}
	slog.Info("worker stopped", "name", workerName)
	return nil
}

// generatePayload is the payload for "generate" tasks.
type generatePayload struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// embedPayload is the payload for "embed" tasks: documents to index into a
// vector collection.
type embedPayload struct {
	Collection string `json:"collection"`
	Documents  []struct {
		ID       string         `json:"id"`
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata,omitempty"`
	} `json:"documents"`
}

// visionPayload is the payload for "vision" tasks: describe or answer a
// question about an image.
type visionPayload struct {
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt"`
	Model    string `json:"model,omitempty"`
}

// chatPayload is the payload for "chat" tasks: a full coordinator run.
type chatPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

func newTaskHandler(a *app.App) queue.Handler {
	return func(ctx context.Context, task queue.Task) (any, error) {
		// Model-calling task types share the worker's admission quota. A
		// rejected task fails here and comes back through the retry backoff.
		switch task.Type {
		case "generate", "chat", "vision":
			decision, err := a.Limiter.Allow(ctx, "worker:"+task.Type)
			if err != nil {
				return nil, fmt.Errorf("checking rate limit: %w", err)
			}
			if !decision.Allowed {
				return nil, fmt.Errorf("rate limit exceeded, retry in %s", decision.RetryAfter)
			}
		}

		switch task.Type {
		case "generate":
			return handleGenerate(ctx, a, task)
		case "embed":
			return handleEmbed(ctx, a, task)
		case "chat":
			return handleChat(ctx, a, task)
		case "vision":
			return handleVision(ctx, a, task)
		default:
			return nil, fmt.Errorf("unknown task type %q", task.Type)
		}
	}
}

func handleGenerate(ctx context.Context, a *app.App, task queue.Task) (any, error) {
	var p generatePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding generate payload: %w", err)
	}
	if p.Prompt == "" {
		return nil, fmt.Errorf("generate payload missing prompt")
	}

	var resp *ai.ChatResponse
	err := a.Gate.Do(ctx, 0, func(ctx context.Context) error {
		var callErr error
		resp, callErr = a.AI.Chat(ctx, ai.ChatRequest{
			Model:       p.Model,
			Messages:    []ai.Message{{Role: ai.RoleUser, Content: p.Prompt}},
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content": resp.Content,
		"model":   resp.Model,
		"usage":   resp.Usage,
	}, nil
}

func handleEmbed(ctx context.Context, a *app.App, task queue.Task) (any, error) {
	var p embedPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding embed payload: %w", err)
	}
	if p.Collection == "" || len(p.Documents) == 0 {
		return nil, fmt.Errorf("embed payload needs a collection and documents")
	}

	inputs := make([]string, len(p.Documents))
	for i, d := range p.Documents {
		inputs[i] = d.Content
	}
	resp, err := a.AI.Embed(ctx, ai.EmbedRequest{Model: a.Config.EmbedderModel, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	if len(resp.Embeddings) != len(p.Documents) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d documents", len(resp.Embeddings), len(p.Documents))
	}

	docs := make([]vector.Document, len(p.Documents))
	for i, d := range p.Documents {
		docs[i] = vector.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: resp.Embeddings[i],
		}
	}
	handle, err := a.Index.Resolve(ctx, p.Collection)
	if err != nil {
		return nil, fmt.Errorf("resolving collection: %w", err)
	}
	if err := a.Index.Upsert(ctx, handle, docs); err != nil {
		return nil, fmt.Errorf("indexing documents: %w", err)
	}
	return map[string]any{"indexed": len(docs), "collection": p.Collection}, nil
}

func handleVision(ctx context.Context, a *app.App, task queue.Task) (any, error) {
	var p visionPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding vision payload: %w", err)
	}
	if p.ImageURL == "" || p.Prompt == "" {
		return nil, fmt.Errorf("vision payload needs an image_url and a prompt")
	}

	var content string
	err := a.Gate.Do(ctx, 0, func(ctx context.Context) error {
		var callErr error
		content, callErr = a.AI.Vision(ctx, p.ImageURL, p.Prompt, p.Model)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": content}, nil
}

func handleChat(ctx context.Context, a *app.App, task queue.Task) (any, error) {
	var p chatPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding chat payload: %w", err)
	}
	if p.Message == "" {
		return nil, fmt.Errorf("chat payload missing message")
	}

	result, err := a.Coordinator.Run(ctx, p.Message, agent.RunOptions{
		SessionID: p.SessionID,
		Mode:      agent.Mode(p.Mode),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content":    result.Content,
		"session_id": result.SessionID,
		"iterations": result.Iterations,
		"tool_calls": len(result.ToolCalls),
	}, nil
}
