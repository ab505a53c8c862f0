package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aicore/internal/ai"
	"aicore/internal/resilience"
	"aicore/internal/session"
	"aicore/internal/tools"
)

const (
	defaultMaxIterations = 10
	maxIterationsCeiling = 20

	defaultToolTimeout         = 12 * time.Second
	minToolTimeout             = 3 * time.Second
	defaultMemoryTimeout       = 1200 * time.Millisecond
	defaultSystemPromptTimeout = time.Second
	defaultPreferenceTimeout   = 800 * time.Millisecond
	defaultHistoryLimit        = 20
	defaultTemperature         = 0.7

	memoryMinScore     = 0.7
	memorySnippetLimit = 500
	exhaustionMessage  = "I apologize, but I was unable to complete the task within the allowed iterations. Please try breaking down your request into smaller steps."
)

// Config tunes a Coordinator. The zero value gets sensible defaults from New.
type Config struct {
	Model               string
	MaxIterations       int
	Temperature         float64
	HistoryLimit        int
	ToolTimeout         time.Duration
	ModelTimeout        time.Duration
	MemoryTimeout       time.Duration
	SystemPromptTimeout time.Duration
	PreferenceTimeout   time.Duration
}

// ToolCallRecord describes one executed tool call in a run.
type ToolCallRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    tools.Result   `json:"result"`
	Duration  time.Duration  `json:"duration"`
}

// RunResult is the outcome of one agent run.
type RunResult struct {
	Content              string
	ToolCalls            []ToolCallRecord
	Usage                ai.Usage
	Model                string
	Iterations           int
	MaxIterationsReached bool
	SessionID            string
	RunID                string
	Duration             time.Duration
}

// RunOptions customize a single run.
type RunOptions struct {
	SessionID string
	Mode      Mode
	// CustomInstructions are appended to the system prompt verbatim.
	CustomInstructions string
	// SkipMemory disables vector memory recall and storage for this run.
	SkipMemory bool
}

// Coordinator drives the reason-act loop: it assembles context, calls the
// model, executes the tool calls the model emits, and feeds the results back
// until the model produces a final answer.
//
// Coordinator is safe for concurrent use by multiple goroutines.
type Coordinator struct {
	chat     ai.ChatClient
	gate     *resilience.Gate
	registry *tools.Registry
	sessions session.Store
	memory   *VectorMemory
	prefs    PreferenceStore
	cfg      Config
	logger   *slog.Logger

	// observer receives tool lifecycle events during streaming runs.
	// Nil outside Stream.
	observer func(Event) bool
}

// New creates a Coordinator. chat and registry are required; gate, sessions,
// memory and prefs are optional and degrade the corresponding feature when
// nil.
func New(chat ai.ChatClient, gate *resilience.Gate, registry *tools.Registry, sessions session.Store, memory *VectorMemory, prefs PreferenceStore, cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat client is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxIterations > maxIterationsCeiling {
		cfg.MaxIterations = maxIterationsCeiling
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	if cfg.ToolTimeout < minToolTimeout {
		cfg.ToolTimeout = minToolTimeout
	}
	if cfg.MemoryTimeout <= 0 {
		cfg.MemoryTimeout = defaultMemoryTimeout
	}
	if cfg.SystemPromptTimeout <= 0 {
		cfg.SystemPromptTimeout = defaultSystemPromptTimeout
	}
	if cfg.PreferenceTimeout <= 0 {
		cfg.PreferenceTimeout = defaultPreferenceTimeout
	}

	return &Coordinator{
		chat:     chat,
		gate:     gate,
		registry: registry,
		sessions: sessions,
		memory:   memory,
		prefs:    prefs,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Run executes one full agent turn for the given user message.
func (c *Coordinator) Run(ctx context.Context, message string, opts RunOptions) (*RunResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("message is empty")
	}

	start := time.Now()
	runID := "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	logger := c.logger.With("run_id", runID, "session_id", sessionID)
	logger.Info("agent run started", "mode", string(opts.Mode))

	messages := c.assembleContext(ctx, logger, message, sessionID, opts)

	result := &RunResult{
		Model:     c.cfg.Model,
		SessionID: sessionID,
		RunID:     runID,
	}

	finalSeen := false
	for iteration := 1; iteration <= c.cfg.MaxIterations; iteration++ {
		result.Iterations = iteration

		prompt := injectToolInstructions(messages, c.registry.Definitions())
		resp, err := c.callModel(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("model call failed on iteration %d: %w", iteration, err)
		}
		result.Usage.PromptTokens += resp.Usage.PromptTokens
		result.Usage.CompletionTokens += resp.Usage.CompletionTokens
		result.Usage.TotalTokens += resp.Usage.TotalTokens
		if resp.Model != "" {
			result.Model = resp.Model
		}

		turn := ParseTurn(resp.Content, logger)
		if turn.IsFinal() {
			result.Content = turn.Content
			finalSeen = true
			break
		}

		records := c.executeCalls(ctx, logger, turn.Calls)
		result.ToolCalls = append(result.ToolCalls, records...)

		messages = append(messages, ai.Message{Role: ai.RoleAssistant, Content: resp.Content})
		for _, rec := range records {
			payload, err := json.Marshal(rec.Result)
			if err != nil {
				payload = []byte(`{"success":false,"error":"result serialization failed"}`)
			}
			messages = append(messages, ai.Message{
				Role:       ai.RoleTool,
				Content:    string(payload),
				ToolCallID: rec.ID,
			})
		}
	}

	if !finalSeen {
		result.Content = exhaustionMessage
		result.MaxIterationsReached = true
		logger.Warn("agent run exhausted iterations", "max_iterations", c.cfg.MaxIterations)
	}

	result.Duration = time.Since(start)

	c.persistExchange(ctx, logger, sessionID, message, result.Content, opts)

	logger.Info("agent run finished",
		"iterations", result.Iterations,
		"tool_calls", len(result.ToolCalls),
		"duration", result.Duration,
	)
	return result, nil
}

// assembleContext builds the initial transcript: system prompt, recalled
// memories, session history and the new user message. The three fetches run
// concurrently and each degrades independently on timeout or error.
func (c *Coordinator) assembleContext(ctx context.Context, logger *slog.Logger, message, sessionID string, opts RunOptions) []ai.Message {
	var (
		wg           sync.WaitGroup
		systemPrompt string
		memories     []MemoryHit
		history      []ai.Message
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		systemPrompt = c.buildPrompt(ctx, logger, sessionID, opts)
	}()

	if c.memory != nil && !opts.SkipMemory {
		wg.Add(1)
		go func() {
			defer wg.Done()
			memCtx, cancel := context.WithTimeout(ctx, c.cfg.MemoryTimeout)
			defer cancel()
			hits, err := c.memory.Search(memCtx, message, sessionID, 5, memoryMinScore)
			if err != nil {
				logger.Warn("memory recall failed, continuing without", "error", err)
				return
			}
			memories = hits
		}()
	}

	if c.sessions != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs, err := c.sessions.History(ctx, sessionID, c.cfg.HistoryLimit)
			if err != nil {
				logger.Warn("history load failed, continuing without", "error", err)
				return
			}
			history = msgs
		}()
	}

	wg.Wait()

	messages := make([]ai.Message, 0, len(history)+3)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: systemPrompt})
	if len(memories) > 0 {
		var b strings.Builder
		b.WriteString("Relevant context from memory:\n")
		for _, hit := range memories {
			b.WriteString("- ")
			b.WriteString(hit.Content)
			b.WriteString("\n")
		}
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: strings.TrimRight(b.String(), "\n")})
	}
	messages = append(messages, history...)
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: message})
	return messages
}

func (c *Coordinator) buildPrompt(ctx context.Context, logger *slog.Logger, sessionID string, opts RunOptions) string {
	promptCtx, cancel := context.WithTimeout(ctx, c.cfg.SystemPromptTimeout)
	defer cancel()

	var prefs map[string]string
	if c.prefs != nil {
		prefCtx, prefCancel := context.WithTimeout(promptCtx, c.cfg.PreferenceTimeout)
		loaded, err := c.prefs.Preferences(prefCtx, sessionID)
		prefCancel()
		if err != nil {
			logger.Warn("preference load failed, using defaults", "error", err)
		} else {
			prefs = loaded
		}
	}

	return BuildSystemPrompt(PromptOptions{
		Mode:               opts.Mode,
		UserPreferences:    prefs,
		CustomInstructions: opts.CustomInstructions,
	})
}

func (c *Coordinator) callModel(ctx context.Context, messages []ai.Message) (*ai.ChatResponse, error) {
	req := ai.ChatRequest{
		Model: c.cfg.Model,
		Messages: []ai.Message{
			{Role: ai.RoleUser, Content: flattenTranscript(messages)},
		},
		Temperature: c.cfg.Temperature,
	}

	if c.gate == nil {
		return c.chat.Chat(ctx, req)
	}

	var resp *ai.ChatResponse
	err := c.gate.Do(ctx, c.cfg.ModelTimeout, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.chat.Chat(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// executeCalls runs the calls concurrently and returns records in the order
// the model requested them.
func (c *Coordinator) executeCalls(ctx context.Context, logger *slog.Logger, calls []ToolCall) []ToolCallRecord {
	records := make([]ToolCallRecord, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()

			toolCtx, cancel := context.WithTimeout(ctx, c.cfg.ToolTimeout)
			defer cancel()

			c.notify(Event{Type: EventToolStart, ToolName: call.Name, ToolID: call.ID})

			started := time.Now()
			result, err := c.registry.Execute(toolCtx, call.Name, call.Arguments)
			if err != nil {
				logger.Warn("tool execution failed", "tool", call.Name, "error", err)
				result = tools.ErrorResult(err.Error())
			}
			if msg, failed := result["error"].(string); failed {
				c.notify(Event{Type: EventToolError, ToolName: call.Name, ToolID: call.ID, Text: msg})
			} else {
				c.notify(Event{Type: EventToolEnd, ToolName: call.Name, ToolID: call.ID})
			}
			records[i] = ToolCallRecord{
				ID:        call.ID,
				Name:      call.Name,
				Arguments: call.Arguments,
				Result:    result,
				Duration:  time.Since(started),
			}
		}(i, call)
	}
	wg.Wait()
	return records
}

func (c *Coordinator) notify(ev Event) {
	if c.observer != nil {
		c.observer(ev)
	}
}

// persistExchange appends the turn to the session and stores a memory
// snippet. Both are best effort.
func (c *Coordinator) persistExchange(ctx context.Context, logger *slog.Logger, sessionID, userMessage, reply string, opts RunOptions) {
	if c.sessions != nil {
		msgs := []ai.Message{
			{Role: ai.RoleUser, Content: userMessage},
			{Role: ai.RoleAssistant, Content: reply},
		}
		if err := c.sessions.Append(ctx, sessionID, msgs); err != nil {
			logger.Warn("session append failed", "error", err)
		}
	}

	if c.memory != nil && !opts.SkipMemory && reply != "" {
		snippet := reply
		if len(snippet) > memorySnippetLimit {
			snippet = snippet[:memorySnippetLimit]
		}
		content := "User: " + userMessage + "\nAssistant: " + snippet
		memCtx, cancel := context.WithTimeout(ctx, c.cfg.MemoryTimeout)
		defer cancel()
		if err := c.memory.Add(memCtx, sessionID, content); err != nil {
			logger.Warn("memory store failed", "error", err)
		}

		// Self-disclosed facts and preferences get their own entries so
		// recall can surface them without the surrounding exchange.
		extracted := ExtractMemories([]ai.Message{{Role: ai.RoleUser, Content: userMessage}})
		for _, m := range extracted {
			if err := c.memory.Add(memCtx, sessionID, m.Content); err != nil {
				logger.Warn("memory store failed", "kind", m.Type, "error", err)
				break
			}
		}
	}
}

// SearchMemories exposes memory recall for callers outside the run loop.
func (c *Coordinator) SearchMemories(ctx context.Context, query, sessionID string, limit int) ([]MemoryHit, error) {
	if c.memory == nil {
		return nil, nil
	}
	return c.memory.Search(ctx, query, sessionID, limit, memoryMinScore)
}

// ClearSession drops the stored history for the session.
func (c *Coordinator) ClearSession(ctx context.Context, sessionID string) error {
	if c.sessions == nil {
		return nil
	}
	return c.sessions.Clear(ctx, sessionID)
}
