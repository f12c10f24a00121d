package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"pkdindustries/sonarshack/internal/config"
	"pkdindustries/sonarshack/internal/llm"
)

// The server exposes a closed set of three tools. Dispatch is an exhaustive
// switch over these names, not an open-ended lookup table.
const (
	ToolAsk    = "perplexity_ask"
	ToolReason = "perplexity_reason"
	ToolSearch = "perplexity_search"
)

const searchSystemPrompt = "Be precise and concise."

// ValidationError reports malformed or missing caller input. Like every
// other dispatch failure it is folded into a text result and never raised
// through the transport.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Completer is the dispatcher's view of the completion client.
type Completer interface {
	Complete(ctx context.Context, req *llm.Request) (string, error)
}

// Registry owns tool descriptors, argument validation, and the mapping of
// completion failures into tool results. It holds no per-call state; every
// Invoke is an independent request/response cycle.
type Registry struct {
	cfg *config.Configuration
	llm Completer
	log *slog.Logger
}

func NewRegistry(cfg *config.Configuration, completer Completer, log *slog.Logger) *Registry {
	return &Registry{cfg: cfg, llm: completer, log: log}
}

// Tools returns the descriptors for the closed tool set.
func (r *Registry) Tools() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name: ToolAsk,
			Description: "Engages in a conversation using the Sonar API. " +
				"Accepts an array of messages (each with a role and content) " +
				"and returns a completion response from the Perplexity model.",
			InputSchema: messagesSchema(),
		},
		{
			Name: ToolReason,
			Description: "Performs reasoning tasks using the Perplexity API. " +
				"Accepts an array of messages (each with a role and content) " +
				"and returns a well-reasoned response using the reasoning model.",
			InputSchema: messagesSchema(),
		},
		{
			Name: ToolSearch,
			Description: "Search the web by asking Perplexity AI, with results " +
				"filtered by recency.",
			InputSchema: searchSchema(),
		},
	}
}

// Invoke runs one tool call. It never returns an error: validation problems,
// unknown names, and completion failures all come back as a normal result
// whose single text block carries the message, keeping the protocol channel
// uninterrupted.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	log := r.log.With("tool", name, "request_id", uuid.NewString())

	if len(args) == 0 {
		log.Error("no arguments provided for tool call")
		return errorResult(&ValidationError{msg: "no arguments provided"})
	}

	var (
		text string
		err  error
	)
	switch name {
	case ToolAsk:
		text, err = r.conversation(ctx, log, args, r.cfg.Model.Model, false)
	case ToolReason:
		text, err = r.conversation(ctx, log, args, r.cfg.Model.ReasoningModel, true)
	case ToolSearch:
		text, err = r.search(ctx, log, args)
	default:
		log.Error("unknown tool requested")
		return textResult(fmt.Sprintf("Unknown tool: %s", name))
	}

	if err != nil {
		log.Error("error processing tool call", "error", err)
		return errorResult(err)
	}
	return textResult(text)
}

// conversation serves ask and reason: same argument shape, different model,
// and reasoning responses get their <think> spans stripped.
func (r *Registry) conversation(ctx context.Context, log *slog.Logger, args map[string]any, model string, reasoning bool) (string, error) {
	messages, err := parseMessages(args)
	if err != nil {
		return "", err
	}
	log.Info("processing conversation", "messages", len(messages), "model", model)
	return r.llm.Complete(ctx, &llm.Request{
		Model:     model,
		Messages:  messages,
		Reasoning: reasoning,
	})
}

// search synthesizes a two-message conversation from the query and forwards
// the recency filter and the configured search sampling parameters upstream.
func (r *Registry) search(ctx context.Context, log *slog.Logger, args map[string]any) (string, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", &ValidationError{msg: "invalid arguments for " + ToolSearch + ": 'query' must be a non-empty string"}
	}

	recency := "month"
	if v, present := args["recency"]; present {
		s, ok := v.(string)
		if !ok || !validRecency(s) {
			return "", &ValidationError{msg: "invalid arguments for " + ToolSearch + ": 'recency' must be one of day, week, month, year"}
		}
		recency = s
	}

	log.Info("processing search", "recency", recency, "model", r.cfg.Model.Model)
	return r.llm.Complete(ctx, &llm.Request{
		Model: r.cfg.Model.Model,
		Messages: []llm.Message{
			{Role: "system", Content: searchSystemPrompt},
			{Role: "user", Content: query},
		},
		Options: &llm.Options{
			MaxTokens:         r.cfg.Search.MaxTokens,
			Temperature:       r.cfg.Search.Temperature,
			TopP:              r.cfg.Search.TopP,
			FrequencyPenalty:  r.cfg.Search.FrequencyPenalty,
			RecencyFilter:     recency,
			ReturnCitations:   true,
			SearchContextSize: r.cfg.Search.SearchContextSize,
		},
	})
}

func parseMessages(args map[string]any) ([]llm.Message, error) {
	raw, ok := args["messages"].([]any)
	if !ok || len(raw) == 0 {
		return nil, &ValidationError{msg: "invalid arguments: 'messages' must be a non-empty array"}
	}
	messages := make([]llm.Message, 0, len(raw))
	for i, el := range raw {
		m, ok := el.(map[string]any)
		if !ok {
			return nil, &ValidationError{msg: fmt.Sprintf("invalid arguments: message %d is not an object", i)}
		}
		role, roleOK := m["role"].(string)
		content, contentOK := m["content"].(string)
		if !roleOK || !contentOK {
			return nil, &ValidationError{msg: fmt.Sprintf("invalid arguments: message %d must have string 'role' and 'content'", i)}
		}
		messages = append(messages, llm.Message{Role: role, Content: content})
	}
	return messages, nil
}

func validRecency(s string) bool {
	switch s {
	case "day", "week", "month", "year":
		return true
	}
	return false
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return textResult("Error: " + err.Error())
}

func messagesSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"messages": {
				Type:        "array",
				Description: "Array of conversation messages",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"role": {
							Type:        "string",
							Description: "Role of the message (e.g., system, user, assistant)",
						},
						"content": {
							Type:        "string",
							Description: "The content of the message",
						},
					},
					Required: []string{"role", "content"},
				},
			},
		},
		Required: []string{"messages"},
	}
}

func searchSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query": {
				Type:        "string",
				Description: "The search query to find information about",
			},
			"recency": {
				Type:        "string",
				Enum:        []any{"day", "week", "month", "year"},
				Description: "Filter results by how recent they are. Defaults to 'month'.",
			},
		},
		Required: []string{"query"},
	}
}
