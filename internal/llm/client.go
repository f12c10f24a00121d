package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"pkdindustries/sonarshack/internal/config"
)

// Message is one conversation turn. Order within a request is meaningful and
// is forwarded to the API verbatim.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the optional sampling parameters a tool may attach to a
// request. The zero value of a field means "do not send it".
type Options struct {
	MaxTokens         int
	Temperature       float64
	TopP              float64
	PresencePenalty   float64
	FrequencyPenalty  float64
	RecencyFilter     string
	ReturnCitations   bool
	SearchContextSize string
}

// Request is built fresh for every completion call and never reused.
type Request struct {
	Model    string
	Messages []Message
	Options  *Options

	// Reasoning marks the response as coming from a reasoning model whose
	// inline <think>...</think> spans must be stripped before presentation.
	Reasoning bool
}

type chatRequest struct {
	Model             string    `json:"model"`
	Messages          []Message `json:"messages"`
	MaxTokens         int       `json:"max_tokens,omitempty"`
	Temperature       float64   `json:"temperature,omitempty"`
	TopP              float64   `json:"top_p,omitempty"`
	PresencePenalty   float64   `json:"presence_penalty,omitempty"`
	FrequencyPenalty  float64   `json:"frequency_penalty,omitempty"`
	RecencyFilter     string    `json:"search_recency_filter,omitempty"`
	ReturnCitations   bool      `json:"return_citations,omitempty"`
	SearchContextSize string    `json:"search_context_size,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Client is the single point of contact with the Perplexity API.
type Client struct {
	endpoint string
	key      string
	http     *http.Client
	log      *slog.Logger
}

func NewClient(api *config.APIConfig, log *slog.Logger) *Client {
	return &Client{
		endpoint: api.URL,
		key:      api.Key,
		http:     &http.Client{Timeout: api.Timeout},
		log:      log,
	}
}

// Complete sends one chat completion request and returns the response
// content, with the citation block appended when the API returned citations.
// There is no retry policy; a failed call fails. Failures are logged here and
// returned typed so the dispatcher can fold them into tool results.
func (c *Client) Complete(ctx context.Context, req *Request) (string, error) {
	body := chatRequest{Model: req.Model, Messages: req.Messages}
	if o := req.Options; o != nil {
		body.MaxTokens = o.MaxTokens
		body.Temperature = o.Temperature
		body.TopP = o.TopP
		body.PresencePenalty = o.PresencePenalty
		body.FrequencyPenalty = o.FrequencyPenalty
		body.RecencyFilter = o.RecencyFilter
		body.ReturnCitations = o.ReturnCitations
		body.SearchContextSize = o.SearchContextSize
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	c.log.Info("sending request to Perplexity API", "model", req.Model, "messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		nerr := &NetworkError{Err: err}
		c.log.Error("network error while calling Perplexity API", "error", err)
		return "", nerr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyText := "unable to read error response"
		if raw, readErr := io.ReadAll(resp.Body); readErr == nil {
			bodyText = string(raw)
		}
		uerr := &UpstreamError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       bodyText,
		}
		c.log.Error("Perplexity API error", "status", resp.StatusCode, "body", bodyText)
		return "", uerr
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		derr := &DecodeError{Err: err}
		c.log.Error("failed to parse JSON response from Perplexity API", "error", err)
		return "", derr
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == nil {
		derr := &DecodeError{Err: errors.New("response missing choices[0].message.content")}
		c.log.Error("unexpected response shape from Perplexity API")
		return "", derr
	}

	content := *cr.Choices[0].Message.Content
	if req.Reasoning {
		content = strings.TrimSpace(thinkPattern.ReplaceAllString(content, ""))
	}

	if len(cr.Citations) > 0 {
		c.log.Info("adding citations to response", "count", len(cr.Citations))
		var b strings.Builder
		b.WriteString(content)
		b.WriteString("\n\nCitations:\n")
		for i, citation := range cr.Citations {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, citation)
		}
		content = b.String()
	}

	c.log.Info("received response from Perplexity API")
	return content, nil
}
