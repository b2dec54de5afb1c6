package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:  "test-key",
		APIBase: srv.URL,
		Model:   "test/model",
	})
}

func TestComplete_RequestShape(t *testing.T) {
	var gotPath, gotAuth, gotReferer, gotTitle string
	var gotBody map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  hello world  "}},
			},
		})
	})

	out, err := client.Complete(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, Params{MaxTokens: 150, Temperature: 0.8, TopP: 0.9, FrequencyPenalty: 0.3, PresencePenalty: 0.3})

	require.NoError(t, err)
	require.Equal(t, "hello world", out, "content should come back trimmed")
	require.Equal(t, "/chat/completions", gotPath)
	require.Equal(t, "Bearer test-key", gotAuth)
	require.NotEmpty(t, gotReferer)
	require.NotEmpty(t, gotTitle)

	require.Equal(t, "test/model", gotBody["model"])
	require.Len(t, gotBody["messages"], 2)
	require.EqualValues(t, 150, gotBody["max_tokens"])
	require.EqualValues(t, 0.8, gotBody["temperature"])
	require.EqualValues(t, 0.9, gotBody["top_p"])
}

func TestComplete_ZeroParamsOmitted(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{MaxTokens: 300, Temperature: 0.7})
	require.NoError(t, err)
	require.NotContains(t, gotBody, "top_p")
	require.NotContains(t, gotBody, "frequency_penalty")
	require.NotContains(t, gotBody, "presence_penalty")
}

func TestComplete_HTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "invalid key"}}`, http.StatusUnauthorized)
	})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 401")
}

func TestComplete_APIErrorObject(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "model overloaded", "type": "rate_limit"},
		})
	})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model overloaded")
}

func TestComplete_NoChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestComplete_MalformedJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{})
	require.Error(t, err)
}

func TestTestConnection(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "hi"}}},
		})
	})

	require.NoError(t, client.TestConnection(context.Background()))
	require.EqualValues(t, 50, gotBody["max_tokens"])
}

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "a/model-1", "name": "Model One", "context_length": 8192},
				{"id": "b/model-2", "name": "Model Two", "context_length": 200000},
			},
		})
	})

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, "a/model-1", models[0].ID)
	require.Equal(t, 200000, models[1].ContextLength)
}

func TestClose_ReusableAfterClose(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "one"}}, Params{})
	require.NoError(t, err)

	client.Close()

	_, err = client.Complete(context.Background(), []Message{{Role: "user", Content: "two"}}, Params{})
	require.NoError(t, err, "client should recreate its session after Close")
	require.Equal(t, 2, calls)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{APIKey: "k", Model: "m"})
	require.Equal(t, "https://openrouter.ai/api/v1", c.cfg.APIBase)
	require.Equal(t, defaultTimeout, c.cfg.Timeout)

	trimmed := NewClient(Config{APIKey: "k", Model: "m", APIBase: "http://example.com/v1/"})
	require.Equal(t, "http://example.com/v1", trimmed.cfg.APIBase)
}
