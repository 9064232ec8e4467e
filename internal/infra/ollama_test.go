package infra

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	config := DefaultOllamaConfig()
	config.BaseURL = srv.URL
	config.Timeout = 5 * time.Second
	return NewOllamaClient(config, zap.NewNop())
}

func TestOllamaClient_Analyze(t *testing.T) {
	var got ollamaChatRequest
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: `{"status":"focused","subject":"Go code","description":"Editing main.go"}`},
			Done:    true,
		})
	})

	schema := json.RawMessage(`{"type":"object"}`)
	raw, err := client.Analyze(context.Background(), domain.AnalysisRequest{
		Image:   []byte("png-bytes"),
		Prompt:  "Is the user focused?",
		History: `[{"status":"distracted"}]`,
		Schema:  schema,
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"focused","subject":"Go code","description":"Editing main.go"}`, string(raw))
	assert.True(t, client.Healthy())

	assert.Equal(t, "minicpm-v", got.Model)
	assert.False(t, got.Stream)
	assert.JSONEq(t, `{"type":"object"}`, string(got.Format))
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "Is the user focused?")
	assert.Contains(t, got.Messages[0].Content, `[{"status":"distracted"}]`)
	assert.Equal(t, []string{base64.StdEncoding.EncodeToString([]byte("png-bytes"))}, got.Messages[0].Images)
}

func TestOllamaClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "model missing",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not found", http.StatusNotFound)
			},
			wantErr: domain.ErrAnalysisFailed,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "out of memory", http.StatusInternalServerError)
			},
			wantErr: domain.ErrAnalysisFailed,
		},
		{
			name: "non-JSON answer",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaMessage{Content: "The user is coding."}})
			},
			wantErr: domain.ErrInvalidAnalysis,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestOllama(t, tt.handler)

			_, err := client.Analyze(context.Background(), domain.AnalysisRequest{Image: []byte("x")})

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOllamaClient_Health(t *testing.T) {
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/show", r.URL.Path)
		w.Write([]byte(`{}`))
	})

	assert.NoError(t, client.Health(context.Background()))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(` {"a":1} `))
}
