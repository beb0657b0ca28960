package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/retake-earth/connect/internal/config"
)

// Classification sentinels for embedding failures. Transient failures are
// retried with bounded backoff before the record is dead-lettered; permanent
// failures dead-letter immediately.
var (
	ErrTransient = errors.New("transient embedding failure")
	ErrPermanent = errors.New("permanent embedding failure")
)

// IsPermanent reports whether err should skip retry entirely. Unclassified
// errors count as transient: network-level failures carry no status code.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// classifyStatus maps an HTTP status to a failure class. Timeouts, rate
// limits and server errors may clear on retry; other client errors will not.
func classifyStatus(status int) error {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return ErrTransient
	}
	return ErrPermanent
}

type ollamaHTTP struct {
	baseURL string
	model   string
	http    *http.Client
	logger  *zap.Logger
}

type ollamaReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResp struct {
	Embedding []float32 `json:"embedding"`
}

func (o *ollamaHTTP) Embed(ctx context.Context, text string) ([]float32, error) {
	b, err := json.Marshal(ollamaReq{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", ErrPermanent)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %v: %w", err, ErrPermanent)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var msg struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&msg)
		o.logger.Warn("ollama embedding failed",
			zap.Int("status", resp.StatusCode),
			zap.String("error", msg.Error))
		return nil, fmt.Errorf("ollama status %d: %s: %w", resp.StatusCode, msg.Error, classifyStatus(resp.StatusCode))
	}

	var r ollamaResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode response: %v: %w", err, ErrTransient)
	}
	if len(r.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned: %w", ErrPermanent)
	}

	o.logger.Debug("embedding generated",
		zap.Int("vector_dim", len(r.Embedding)),
		zap.Duration("duration", time.Since(start)))
	return r.Embedding, nil
}

func (o *ollamaHTTP) Close() error { return nil }

type openaiHTTP struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

type openaiReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *openaiHTTP) Embed(ctx context.Context, text string) ([]float32, error) {
	b, err := json.Marshal(openaiReq{Model: o.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", ErrPermanent)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %v: %w", err, ErrPermanent)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		o.logger.Warn("openai embedding failed", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("openai status %d: %w", resp.StatusCode, classifyStatus(resp.StatusCode))
	}

	var r openaiResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode response: %v: %w", err, ErrTransient)
	}
	if len(r.Data) == 0 || len(r.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned: %w", ErrPermanent)
	}
	return r.Data[0].Embedding, nil
}

func (o *openaiHTTP) Close() error { return nil }

func NewProvider(ec config.EmbedConfig, logger *zap.Logger) (Provider, error) {
	logger.Info("creating embeddings provider",
		zap.String("provider", ec.Provider),
		zap.String("model", ec.Model),
		zap.String("url", ec.URL))

	client := &http.Client{Timeout: 60 * time.Second}
	switch ec.Provider {
	case "ollama_http":
		return &ollamaHTTP{baseURL: ec.URL, model: ec.Model, http: client, logger: logger}, nil
	case "openai_http":
		return &openaiHTTP{baseURL: ec.URL, model: ec.Model, apiKey: ec.APIKey, http: client, logger: logger}, nil
	}
	return nil, fmt.Errorf("unknown embed provider %q", ec.Provider)
}

// VerifyDimension embeds a probe document and checks the vector length
// against the configured size. The embedding dimension is a deployment-time
// contract with the output schema, so a mismatch is caught once at startup
// rather than corrupting encoded output per record.
func VerifyDimension(ctx context.Context, p Provider, want int) error {
	vec, err := p.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("dimension probe: %w", err)
	}
	if len(vec) != want {
		return fmt.Errorf("embedding dimension %d does not match configured vector_size %d", len(vec), want)
	}
	return nil
}
