package image

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/feichai0017/vision-ocr/internal/models"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

// TranscriptionPrompt is sent verbatim as the user message with every image.
const TranscriptionPrompt = `Act as an OCR assistant. Analyze the provided image and:
1. Recognize all visible text in the image as accurately as possible.
2. Maintain the original structure and formatting of the text.
3. If any words or phrases are unclear, indicate this with [unclear] in your transcription.
Provide only the transcription without any additional comments.`

const (
	DefaultOllamaEndpoint = "http://localhost:11434"
	DefaultOllamaModel    = "llama3.2-vision"
	DefaultOllamaTimeout  = 300 * time.Second

	streamLinePrefix = "data:"
	maxStreamLine    = 1 << 20
)

type OllamaConfig struct {
	Endpoint string
	Model    string
	Prompt   string
	Timeout  time.Duration

	// Sampling options are only sent when positive.
	Temperature float64
	MaxTokens   int
}

func DefaultOllamaConfig() *OllamaConfig {
	return &OllamaConfig{
		Endpoint: DefaultOllamaEndpoint,
		Model:    DefaultOllamaModel,
		Prompt:   TranscriptionPrompt,
		Timeout:  DefaultOllamaTimeout,
	}
}

// RemoteStatus classifies a remote recognition attempt.
type RemoteStatus int

const (
	RemoteUnavailable RemoteStatus = iota
	RemoteEmpty
	RemoteText
)

func (s RemoteStatus) String() string {
	switch s {
	case RemoteText:
		return "text"
	case RemoteEmpty:
		return "empty"
	default:
		return "unavailable"
	}
}

// RemoteOutcome is the result of one streamed request. Text is only set when
// Status is RemoteText.
type RemoteOutcome struct {
	Status RemoteStatus
	Text   string
	Err    error
}

func (o RemoteOutcome) Found() bool {
	return o.Status == RemoteText
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

type ClientOption func(*OllamaClient)

// WithChunkObserver registers fn to receive each content fragment as it
// arrives. It is for live progress only and never changes the outcome.
func WithChunkObserver(fn func(chunk string)) ClientOption {
	return func(c *OllamaClient) {
		c.onChunk = fn
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *OllamaClient) {
		c.httpClient = hc
	}
}

// OllamaClient talks to a vision model served behind Ollama's /api/chat.
type OllamaClient struct {
	config     OllamaConfig
	httpClient *http.Client
	logger     logger.Logger
	onChunk    func(string)
}

func NewOllamaClient(config *OllamaConfig, log logger.Logger, opts ...ClientOption) *OllamaClient {
	if config == nil {
		config = DefaultOllamaConfig()
	}
	cfg := *config
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOllamaEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Prompt == "" {
		cfg.Prompt = TranscriptionPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOllamaTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}

	c := &OllamaClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recognize streams a transcription of one base64-encoded image.
func (c *OllamaClient) Recognize(ctx context.Context, base64Image string) RemoteOutcome {
	body, err := json.Marshal(c.buildRequest(base64Image))
	if err != nil {
		return c.unavailable(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return c.unavailable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.unavailable(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return c.unavailable(fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	text, chunks, err := c.readStream(resp.Body)
	if err != nil {
		return c.unavailable(fmt.Errorf("stream interrupted after %d chunks: %w", chunks, err))
	}

	text = strings.TrimSpace(text)
	c.logger.Debug("Model stream finished",
		logger.String("model", c.config.Model),
		logger.Int("chunks", chunks),
		logger.Int("chars", len(text)),
		logger.Duration("duration", time.Since(start)),
	)
	if text == "" {
		return RemoteOutcome{Status: RemoteEmpty, Err: models.ErrRecognitionEmpty}
	}
	return RemoteOutcome{Status: RemoteText, Text: text}
}

func (c *OllamaClient) buildRequest(base64Image string) chatRequest {
	req := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: c.config.Prompt,
			Images:  []string{base64Image},
		}},
		Stream: true,
	}
	if c.config.Temperature > 0 || c.config.MaxTokens > 0 {
		req.Options = &chatOptions{
			Temperature: c.config.Temperature,
			NumPredict:  c.config.MaxTokens,
		}
	}
	return req
}

// readStream concatenates message.content from every "data:" line until the
// server closes the connection. Unparseable lines are skipped.
func (c *OllamaClient) readStream(r io.Reader) (string, int, error) {
	var (
		sb     strings.Builder
		chunks int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte(streamLinePrefix)) {
			continue
		}
		payload := bytes.TrimSpace(line[len(streamLinePrefix):])

		var chunk chatChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			c.logger.Debug("Skipping malformed stream line", logger.Error(err))
			continue
		}
		if chunk.Error != "" {
			c.logger.Warn("Model reported error in stream", logger.String("error", chunk.Error))
			continue
		}
		if chunk.Message.Content == "" {
			continue
		}

		chunks++
		sb.WriteString(chunk.Message.Content)
		if c.onChunk != nil {
			c.onChunk(chunk.Message.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", chunks, err
	}
	return sb.String(), chunks, nil
}

func (c *OllamaClient) unavailable(err error) RemoteOutcome {
	c.logger.Warn("Model service unavailable",
		logger.String("endpoint", c.config.Endpoint),
		logger.Error(err),
	)
	return RemoteOutcome{
		Status: RemoteUnavailable,
		Err:    fmt.Errorf("%w: %w", models.ErrNetworkUnavailable, err),
	}
}

func (c *OllamaClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
