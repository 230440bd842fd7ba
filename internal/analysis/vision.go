package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/technosupport/ts-vigil/internal/data"
)

type GeminiConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// GeminiProvider calls the generateContent REST endpoint with the frame
// attached as inline data.
type GeminiProvider struct {
	config GeminiConfig
	client *http.Client
}

func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &GeminiProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (g *GeminiProvider) Analyze(ctx context.Context, req data.VisionRequest) (string, error) {
	text := req.Prompt
	if req.Context != "" {
		text += "\n\n" + req.Context
	}
	parts := []geminiPart{{Text: text}}
	if len(req.Image) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: http.DetectContentType(req.Image),
			Data:     base64.StdEncoding.EncodeToString(req.Image),
		}})
	}

	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}})
	if err != nil {
		return "", &data.ProviderError{Permanent: true, Err: err}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(g.config.Endpoint, "/"), g.config.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &data.ProviderError{Permanent: true, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.config.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &data.ProviderError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &data.ProviderError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &data.ProviderError{
			StatusCode: resp.StatusCode,
			Permanent:  data.IsPermanentStatus(resp.StatusCode),
			Err:        errors.New(Truncate(strings.TrimSpace(string(raw)), 300)),
		}
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &data.ProviderError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.PromptFeedback.BlockReason != "" {
		return "", &data.ProviderError{Permanent: true, Err: fmt.Errorf("prompt blocked: %s", out.PromptFeedback.BlockReason)}
	}
	if len(out.Candidates) == 0 {
		return "", &data.ProviderError{Err: errors.New("no candidates returned")}
	}

	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	result := strings.TrimSpace(b.String())
	if result == "" {
		return "", &data.ProviderError{Err: fmt.Errorf("empty response (finish reason %q)", out.Candidates[0].FinishReason)}
	}
	return result, nil
}
