package infra

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// OllamaConfig holds analysis client configuration.
type OllamaConfig struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// DefaultOllamaConfig returns a local Ollama with a vision model.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:     "http://localhost:11434",
		Model:       "minicpm-v",
		Timeout:     60 * time.Second,
		Temperature: 0.1,
	}
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

type ollamaShowRequest struct {
	Name string `json:"name"`
}

// OllamaClient implements domain.AnalysisService against Ollama's chat API.
// The response schema is passed as the structured-output format, so the
// model answers with JSON matching it.
type OllamaClient struct {
	config     OllamaConfig
	httpClient *http.Client
	healthy    atomic.Bool
	logger     *zap.Logger
}

// NewOllamaClient creates an analysis client.
func NewOllamaClient(config OllamaConfig, logger *zap.Logger) *OllamaClient {
	return &OllamaClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger.Named("ollama"),
	}
}

// Analyze sends the image, prompt and history and returns the model's JSON answer.
func (c *OllamaClient) Analyze(ctx context.Context, req domain.AnalysisRequest) (json.RawMessage, error) {
	start := time.Now()

	content := req.Prompt
	if req.History != "" {
		content += "\n\nPrevious observations:\n" + req.History
	}

	chatReq := ollamaChatRequest{
		Model: c.config.Model,
		Messages: []ollamaMessage{{
			Role:    "user",
			Content: content,
			Images:  []string{base64.StdEncoding.EncodeToString(req.Image)},
		}},
		Stream:  false,
		Format:  req.Schema,
		Options: ollamaOptions{Temperature: c.config.Temperature},
	}

	var chatResp ollamaChatResponse
	if err := c.post(ctx, "/api/chat", chatReq, &chatResp); err != nil {
		return nil, err
	}

	answer := stripCodeFence(chatResp.Message.Content)
	if !json.Valid([]byte(answer)) {
		return nil, errors.Wrapf(domain.ErrInvalidAnalysis, "model %s returned non-JSON content", c.config.Model)
	}

	c.logger.Debug("analysis completed",
		zap.String("model", c.config.Model),
		zap.Int("image_size", len(req.Image)),
		zap.Int("tokens", chatResp.PromptEvalCount+chatResp.EvalCount),
		zap.Duration("latency", time.Since(start)))

	return json.RawMessage(answer), nil
}

// Health checks that the configured model is available.
func (c *OllamaClient) Health(ctx context.Context) error {
	return c.post(ctx, "/api/show", ollamaShowRequest{Name: c.config.Model}, nil)
}

// Healthy reports the outcome of the last request.
func (c *OllamaClient) Healthy() bool {
	return c.healthy.Load()
}

func (c *OllamaClient) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.config.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.healthy.Store(false)
		return errors.Wrapf(domain.ErrAnalysisFailed, "ollama request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.healthy.Store(false)
		if resp.StatusCode == http.StatusNotFound {
			return errors.Wrapf(domain.ErrAnalysisFailed,
				"model %q not found, run 'ollama pull %s'", c.config.Model, c.config.Model)
		}
		return errors.Wrapf(domain.ErrAnalysisFailed, "ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.healthy.Store(false)
			return errors.Wrapf(domain.ErrAnalysisFailed, "decode response: %v", err)
		}
	}

	c.healthy.Store(true)
	return nil
}

// stripCodeFence removes a ```json fence some models wrap answers in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Ensure OllamaClient implements domain.AnalysisService.
var _ domain.AnalysisService = (*OllamaClient)(nil)
