package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkdindustries/sonarshack/internal/config"
)

func newTestClient(url string) *Client {
	return NewClient(&config.APIConfig{
		Key:     "test-key",
		URL:     url,
		Timeout: 5 * time.Second,
	}, slog.New(slog.DiscardHandler))
}

func respond(t *testing.T, content string, citations []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		}
		if citations != nil {
			body["citations"] = citations
		}
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}
}

func TestCompleteForwardsMessagesInOrder(t *testing.T) {
	var got chatRequest
	var auth, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respond(t, "ok", nil)(w, r)
	}))
	defer srv.Close()

	messages := []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	_, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
		Model:    "sonar-pro",
		Messages: messages,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "sonar-pro", got.Model)
	assert.Equal(t, messages, got.Messages, "messages must be forwarded verbatim in order")
}

func TestCompleteOmitsUnsetOptions(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		respond(t, "ok", nil)(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
		Model:    "sonar-pro",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Len(t, raw, 2, "a plain request carries only model and messages")
	assert.Contains(t, raw, "model")
	assert.Contains(t, raw, "messages")
}

func TestCompleteSendsSamplingOptions(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		respond(t, "ok", nil)(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
		Model:    "sonar",
		Messages: []Message{{Role: "user", Content: "hi"}},
		Options: &Options{
			MaxTokens:         2000,
			Temperature:       0.3,
			TopP:              0.95,
			FrequencyPenalty:  1,
			RecencyFilter:     "week",
			ReturnCitations:   true,
			SearchContextSize: "low",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "week", raw["search_recency_filter"])
	assert.Equal(t, float64(2000), raw["max_tokens"])
	assert.Equal(t, 0.3, raw["temperature"])
	assert.Equal(t, 0.95, raw["top_p"])
	assert.Equal(t, float64(1), raw["frequency_penalty"])
	assert.Equal(t, true, raw["return_citations"])
	assert.Equal(t, "low", raw["search_context_size"])
}

func TestCompleteAppendsCitations(t *testing.T) {
	srv := httptest.NewServer(respond(t, "Hi", []string{"http://x"}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
		Model:    "sonar-pro",
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi\n\nCitations:\n[1] http://x\n", got)
}

func TestCompleteCitationOrderPreserved(t *testing.T) {
	citations := []string{"http://c", "http://a", "http://b"}
	srv := httptest.NewServer(respond(t, "answer", citations))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
		Model:    "sonar-pro",
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer\n\nCitations:\n[1] http://c\n[2] http://a\n[3] http://b\n", got)
}

func TestCompleteNoCitationsBlockWhenEmpty(t *testing.T) {
	for name, citations := range map[string][]string{"absent": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(respond(t, "plain answer", citations))
			defer srv.Close()

			got, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
				Model:    "sonar-pro",
				Messages: []Message{{Role: "user", Content: "q"}},
			})
			require.NoError(t, err)
			assert.Equal(t, "plain answer", got)
			assert.NotContains(t, got, "Citations:")
		})
	}
}

func TestCompleteStripsThinkSpans(t *testing.T) {
	srv := httptest.NewServer(respond(t, "<think>ignored</think>kept", nil))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
		Model:     "sonar-reasoning-pro",
		Messages:  []Message{{Role: "user", Content: "q"}},
		Reasoning: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "kept", got)
}

func TestCompleteStripsMultilineThinkBeforeCitations(t *testing.T) {
	srv := httptest.NewServer(respond(t, "<think>line one\nline two</think>\n\nconclusion", []string{"http://x"}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
		Model:     "sonar-reasoning-pro",
		Messages:  []Message{{Role: "user", Content: "q"}},
		Reasoning: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "conclusion\n\nCitations:\n[1] http://x\n", got)
}

func TestCompleteThinkSpansKeptWithoutReasoning(t *testing.T) {
	srv := httptest.NewServer(respond(t, "<think>kept too</think>answer", nil))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
		Model:    "sonar-pro",
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "<think>kept too</think>answer", got)
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
		Model:    "sonar-pro",
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusTooManyRequests, uerr.Status)
	assert.Contains(t, uerr.Body, "quota exceeded")
	assert.Contains(t, err.Error(), "429")
}

func TestCompleteDecodeErrorOnBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
		Model:    "sonar-pro",
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
}

func TestCompleteDecodeErrorOnMissingContent(t *testing.T) {
	cases := map[string]string{
		"no choices":      `{"choices": []}`,
		"no message":      `{"choices": [{}]}`,
		"content missing": `{"choices": [{"message": {"role": "assistant"}}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
				Model:    "sonar-pro",
				Messages: []Message{{Role: "user", Content: "q"}},
			})
			var derr *DecodeError
			require.ErrorAs(t, err, &derr)
		})
	}
}

func TestCompleteNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := newTestClient(srv.URL).Complete(context.Background(), &Request{
		Model:    "sonar-pro",
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.Contains(t, err.Error(), "network error while calling Perplexity API")
}
