// Package tools provides the tool catalog the agent exposes to the model.
//
// Tools are described by JSON-schema style definitions that get injected
// into the system prompt; the model requests invocations through fenced
// tool_call blocks and the registry executes them by name.
package tools

import (
	"context"
)

// Definition describes a tool to the model.
type Definition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Parameters is a JSON-schema object describing a tool's arguments.
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one argument.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Items       *Property `json:"items,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// Result is a tool invocation outcome. Tools report their own failures
// inside the result payload; an error return is reserved for the execution
// machinery (timeouts, cancelled contexts).
type Result map[string]any

// Tool is one callable capability.
type Tool interface {
	// Definition returns the tool's catalog entry. It must be stable for
	// the life of the tool.
	Definition() Definition

	// Execute runs the tool. Implementations should put domain failures in
	// the Result ({"success": false, "error": ...}) and return a Go error
	// only when the invocation itself could not run.
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// ErrorResult builds the payload reported for failed invocations.
func ErrorResult(message string) Result {
	return Result{"success": false, "error": message}
}

// Helpers for pulling typed arguments out of the loosely-typed args map.

// StringArg returns the named argument as a string, or fallback when absent
// or of the wrong type.
func StringArg(args map[string]any, name, fallback string) string {
	if v, ok := args[name].(string); ok && v != "" {
		return v
	}
	return fallback
}

// IntArg returns the named argument as an int. JSON numbers arrive as
// float64, so both are accepted.
func IntArg(args map[string]any, name string, fallback int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// StringSliceArg returns the named argument as a string slice.
func StringSliceArg(args map[string]any, name string) []string {
	raw, ok := args[name].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
