// Package llm talks to OpenAI-compatible chat and embedding endpoints.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/metrics"
	"github.com/docs-agent/backend/pkg/circuitbreaker"
	"github.com/docs-agent/backend/pkg/logger"
	"github.com/docs-agent/backend/pkg/retry"
)

var (
	ErrEmptyResponse  = errors.New("model returned no choices")
	ErrSchemaMismatch = errors.New("response does not match schema")
)

type Config struct {
	// Name labels the backend in logs and metrics.
	Name                string
	APIKey              string
	BaseURL             string
	Model               string
	EmbeddingModel      string
	EmbeddingDimensions int
	Temperature         float32
	MaxTokens           int
	Timeout             time.Duration
	HTTPClient          *http.Client
}

type Client struct {
	client      *openai.Client
	cfg         Config
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// StructuredRequest asks for a reply that conforms to Schema.
type StructuredRequest struct {
	CompletionRequest
	SchemaName string
	Schema     *jsonschema.Definition
}

type CompletionResponse struct {
	Content string
	Model   string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config) *Client {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	cb := circuitbreaker.NewCircuitBreaker("llm-"+cfg.Name, circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure: func(err error) bool {
			return err != nil && !retry.IsPermanent(err) && !errors.Is(err, context.Canceled)
		},
		Logger: logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		ShouldRetry:    isRetryable,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("backend", cfg.Name),
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		cfg:         cfg,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Name() string  { return c.cfg.Name }
func (c *Client) Model() string { return c.cfg.Model }

// isRetryable retries transport failures, rate limits and server errors.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled)
}

func (c *Client) chatRequest(req CompletionRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	return openai.ChatCompletionRequest{
		Model:               model,
		Messages:            messages,
		Temperature:         temperature,
		MaxCompletionTokens: maxTokens,
	}
}

func (c *Client) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequests.WithLabelValues(c.cfg.Name, operation, status).Inc()
	metrics.LLMLatency.WithLabelValues(c.cfg.Name, operation).Observe(time.Since(start).Seconds())
}

func (c *Client) GenerateText(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return c.complete(ctx, "complete", c.chatRequest(req))
}

// GenerateStructured requests a reply constrained to req.Schema, verifies it
// against the schema and decodes it into out. A reply that does not conform
// yields ErrSchemaMismatch and leaves out untouched.
func (c *Client) GenerateStructured(ctx context.Context, req StructuredRequest, out any) error {
	if req.Schema == nil {
		return fmt.Errorf("schema is required for structured completion")
	}
	name := req.SchemaName
	if name == "" {
		name = "response"
	}

	chatReq := c.chatRequest(req.CompletionRequest)
	chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   name,
			Schema: req.Schema,
			Strict: true,
		},
	}

	resp, err := c.complete(ctx, "structured", chatReq)
	if err != nil {
		return err
	}
	if err := DecodeJSON(req.Schema, resp.Content, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaMismatch, name, err)
	}
	return nil
}

func (c *Client) complete(ctx context.Context, operation string, chatReq openai.ChatCompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	result, err := circuitbreaker.ExecuteWithResult(ctx, c.cb, func() (*CompletionResponse, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*CompletionResponse, error) {
			resp, err := c.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return nil, fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return nil, retry.Permanent(ErrEmptyResponse)
			}

			return &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Model:   resp.Model,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}, nil
		})
	})
	c.observe(operation, start, err)
	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues(chatReq.Model, "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(chatReq.Model, "completion").Add(float64(result.Usage.CompletionTokens))

	logger.Debug("LLM completion generated",
		zap.String("backend", c.cfg.Name),
		zap.String("operation", operation),
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
	)

	return result, nil
}

// TextStream yields generated text incrementally. Recv returns io.EOF once
// the reply is complete.
type TextStream interface {
	Recv() (string, error)
	Close() error
}

type chatStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
}

func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("failed to read stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *chatStream) Close() error {
	defer s.cancel()
	return s.stream.Close()
}

// GenerateTextStream opens a streaming completion. Only establishing the
// stream is retried; the caller must Close the returned stream.
func (c *Client) GenerateTextStream(ctx context.Context, req CompletionRequest) (TextStream, error) {
	chatReq := c.chatRequest(req)
	chatReq.Stream = true

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)

	start := time.Now()
	stream, err := circuitbreaker.ExecuteWithResult(ctx, c.cb, func() (*openai.ChatCompletionStream, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*openai.ChatCompletionStream, error) {
			s, err := c.client.CreateChatCompletionStream(ctx, chatReq)
			if err != nil {
				return nil, fmt.Errorf("failed to create completion stream: %w", err)
			}
			return s, nil
		})
	})
	c.observe("stream", start, err)
	if err != nil {
		cancel()
		return nil, err
	}

	logger.Debug("LLM stream opened", zap.String("backend", c.cfg.Name), zap.String("model", chatReq.Model))
	return &chatStream{stream: stream, cancel: cancel}, nil
}

func (c *Client) Dimensions() int {
	return c.cfg.EmbeddingDimensions
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	const batchSize = 100
	embeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))
		batch := texts[i:end]

		start := time.Now()
		data, err := circuitbreaker.ExecuteWithResult(ctx, c.cb, func() ([]openai.Embedding, error) {
			return retry.DoWithResult(ctx, c.retryConfig, func() ([]openai.Embedding, error) {
				resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Input:      batch,
					Model:      openai.EmbeddingModel(c.cfg.EmbeddingModel),
					Dimensions: c.cfg.EmbeddingDimensions,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to generate embeddings: %w", err)
				}
				if len(resp.Data) != len(batch) {
					return nil, retry.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data)))
				}
				return resp.Data, nil
			})
		})
		c.observe("embed", start, err)
		if err != nil {
			return nil, err
		}

		for _, d := range data {
			if c.cfg.EmbeddingDimensions > 0 && len(d.Embedding) != c.cfg.EmbeddingDimensions {
				return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(d.Embedding), c.cfg.EmbeddingDimensions)
			}
			embeddings = append(embeddings, d.Embedding)
		}
	}

	logger.Debug("Embeddings generated", zap.String("backend", c.cfg.Name), zap.Int("count", len(embeddings)))
	return embeddings, nil
}

// DecodeJSON verifies content against schema and unmarshals it into out.
// out is only written when content conforms.
func DecodeJSON(schema *jsonschema.Definition, content string, out any) error {
	if schema == nil {
		return json.Unmarshal([]byte(content), out)
	}
	return jsonschema.VerifySchemaAndUnmarshal(*schema, []byte(content), out)
}
