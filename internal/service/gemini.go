package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/ecosync/internal/config"
)

// geminiClient calls the Generative Language REST API.
type geminiClient struct {
	client         *resty.Client
	model          string
	embeddingModel string
	maxRetries     int
	retryDelay     time.Duration
}

func newGeminiClient(cfg *config.GeminiConfig) *geminiClient {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/"))
	client.SetHeader("x-goog-api-key", cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	return &geminiClient{
		client:         client,
		model:          modelPath(cfg.Model),
		embeddingModel: modelPath(cfg.EmbeddingModel),
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
	}
}

// modelPath normalizes "gemini-1.5-flash" to "models/gemini-1.5-flash".
func modelPath(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

type embedContentRequest struct {
	Model    string        `json:"model"`
	Content  geminiContent `json:"content"`
	TaskType string        `json:"taskType,omitempty"`
}

type embedContentResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

type generateContentRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func inlineMedia(mime string, data []byte) *geminiInlineData {
	return &geminiInlineData{MIMEType: mime, Data: base64.StdEncoding.EncodeToString(data)}
}

// post sends one request with bounded retries. Transport errors, 429 and
// 5xx responses are retried; other statuses fail immediately.
func (c *geminiClient) post(ctx context.Context, path string, body, result interface{}) error {
	return callWithRetry(ctx, c.maxRetries, c.retryDelay, func(ctx context.Context) error {
		var apiErr geminiError
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(result).
			SetError(&apiErr).
			Post(path)
		if err != nil {
			return retryable(fmt.Errorf("gemini request failed: %w", err))
		}
		if resp.StatusCode() == http.StatusOK {
			return nil
		}

		msg := fmt.Sprintf("status %d", resp.StatusCode())
		if apiErr.Error != nil && apiErr.Error.Message != "" {
			msg = fmt.Sprintf("%s: %s", msg, apiErr.Error.Message)
		}
		err = fmt.Errorf("gemini API error: %s", msg)
		if resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500 {
			return retryable(err)
		}
		return err
	})
}

// embedContent returns the embedding vector of raw media bytes.
func (c *geminiClient) embedContent(ctx context.Context, data []byte, taskType string) ([]float32, error) {
	req := embedContentRequest{
		Model: c.embeddingModel,
		Content: geminiContent{Parts: []geminiPart{
			{InlineData: inlineMedia("application/octet-stream", data)},
		}},
		TaskType: taskType,
	}
	var resp embedContentResponse
	if err := c.post(ctx, "/"+c.embeddingModel+":embedContent", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini returned an empty embedding")
	}
	return resp.Embedding.Values, nil
}

// generateContent sends a prompt with one image and returns the response text.
func (c *geminiClient) generateContent(ctx context.Context, prompt, mime string, data []byte, maxTokens int) (string, error) {
	req := generateContentRequest{
		Contents: []geminiContent{{Parts: []geminiPart{
			{Text: prompt},
			{InlineData: inlineMedia(mime, data)},
		}}},
	}
	req.GenerationConfig.MaxOutputTokens = maxTokens

	var resp generateContentResponse
	if err := c.post(ctx, "/"+c.model+":generateContent", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
