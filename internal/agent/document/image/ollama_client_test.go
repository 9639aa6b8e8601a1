package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/vision-ocr/internal/models"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

func dataLine(t *testing.T, content string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"message": map[string]string{"role": "assistant", "content": content},
		"done":    false,
	})
	require.NoError(t, err)
	return "data: " + string(b) + "\n"
}

func streamHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprint(w, l)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func newTestClient(url string, opts ...ClientOption) *OllamaClient {
	return NewOllamaClient(&OllamaConfig{Endpoint: url}, logger.NewTestLogger(), opts...)
}

func TestRecognizeConcatenatesStreamedChunks(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		streamHandler(
			dataLine(t, "Hel"),
			": keep-alive comment\n",
			dataLine(t, "lo "),
			"data: {not json}\n",
			"\n",
			dataLine(t, "World"),
			`data: {"message":{"content":""},"done":true}`+"\n",
		)(w, r)
	}))
	defer srv.Close()

	var (
		mu     sync.Mutex
		pieces []string
	)
	client := newTestClient(srv.URL+"/", WithChunkObserver(func(s string) {
		mu.Lock()
		pieces = append(pieces, s)
		mu.Unlock()
	}))

	out := client.Recognize(context.Background(), "aGVsbG8=")

	require.Equal(t, RemoteText, out.Status)
	assert.True(t, out.Found())
	assert.Equal(t, "Hello World", out.Text)
	assert.NoError(t, out.Err)
	assert.Equal(t, []string{"Hel", "lo ", "World"}, pieces)

	assert.Equal(t, DefaultOllamaModel, captured.Model)
	assert.True(t, captured.Stream)
	assert.Nil(t, captured.Options)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, TranscriptionPrompt, captured.Messages[0].Content)
	assert.Equal(t, []string{"aGVsbG8="}, captured.Messages[0].Images)
}

func TestRecognizeTrimsSurroundingWhitespace(t *testing.T) {
	srv := httptest.NewServer(streamHandler(dataLine(t, "\n  Invoice #42\n"), dataLine(t, "Total: 10  \n")))
	defer srv.Close()

	out := newTestClient(srv.URL).Recognize(context.Background(), "x")
	require.Equal(t, RemoteText, out.Status)
	assert.Equal(t, "Invoice #42\nTotal: 10", out.Text)
}

func TestRecognizeSendsSamplingOptionsWhenConfigured(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		streamHandler(dataLine(t, "ok"))(w, r)
	}))
	defer srv.Close()

	client := NewOllamaClient(&OllamaConfig{
		Endpoint:    srv.URL,
		Model:       "llava",
		Temperature: 0.2,
		MaxTokens:   512,
	}, nil)
	out := client.Recognize(context.Background(), "x")

	require.True(t, out.Found())
	assert.Equal(t, "llava", captured.Model)
	require.NotNil(t, captured.Options)
	assert.InDelta(t, 0.2, captured.Options.Temperature, 1e-9)
	assert.Equal(t, 512, captured.Options.NumPredict)
}

func TestRecognizeEmptyOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"no lines", nil},
		{"whitespace only", []string{"data: {\"message\":{\"content\":\"  \"}}\n", "data: {\"message\":{\"content\":\"\\n\"}}\n"}},
		{"unprefixed ndjson", []string{`{"message":{"content":"hidden"}}` + "\n"}},
		{"only malformed", []string{"data: [\n", "data:\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(streamHandler(tt.lines...))
			defer srv.Close()

			out := newTestClient(srv.URL).Recognize(context.Background(), "x")
			assert.Equal(t, RemoteEmpty, out.Status)
			assert.Empty(t, out.Text)
			assert.True(t, errors.Is(out.Err, models.ErrRecognitionEmpty))
		})
	}
}

func TestRecognizeNonSuccessStatusIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	out := newTestClient(srv.URL).Recognize(context.Background(), "x")
	assert.Equal(t, RemoteUnavailable, out.Status)
	assert.Empty(t, out.Text)
	assert.True(t, errors.Is(out.Err, models.ErrNetworkUnavailable))
	assert.Contains(t, out.Err.Error(), "404")
}

func TestRecognizeConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(streamHandler())
	url := srv.URL
	srv.Close()

	log := logger.NewTestLogger()
	out := NewOllamaClient(&OllamaConfig{Endpoint: url}, log).Recognize(context.Background(), "x")

	assert.Equal(t, RemoteUnavailable, out.Status)
	assert.True(t, errors.Is(out.Err, models.ErrNetworkUnavailable))
	assert.True(t, log.Contains("WARN", "unavailable"))
}

func TestRecognizeTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewOllamaClient(&OllamaConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	out := client.Recognize(context.Background(), "x")
	assert.Equal(t, RemoteUnavailable, out.Status)
}

func TestRecognizeDiscardsPartialTextOnBrokenStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamHandler(dataLine(t, "partial "), dataLine(t, "text"))(w, r)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	out := newTestClient(srv.URL).Recognize(context.Background(), "x")
	assert.Equal(t, RemoteUnavailable, out.Status)
	assert.Empty(t, out.Text)
}

func TestRecognizeCancelledContext(t *testing.T) {
	srv := httptest.NewServer(streamHandler(dataLine(t, "never")))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newTestClient(srv.URL).Recognize(ctx, "x")
	assert.Equal(t, RemoteUnavailable, out.Status)
	assert.True(t, errors.Is(out.Err, context.Canceled))
}

func TestNewOllamaClientDefaults(t *testing.T) {
	c := NewOllamaClient(&OllamaConfig{Endpoint: "http://host:11434///"}, nil)
	assert.Equal(t, "http://host:11434", c.config.Endpoint)
	assert.Equal(t, DefaultOllamaModel, c.config.Model)
	assert.Equal(t, TranscriptionPrompt, c.config.Prompt)
	assert.Equal(t, DefaultOllamaTimeout, c.httpClient.Timeout)
	assert.NoError(t, c.Close())
}

func TestRemoteStatusString(t *testing.T) {
	assert.Equal(t, "text", RemoteText.String())
	assert.Equal(t, "empty", RemoteEmpty.String())
	assert.Equal(t, "unavailable", RemoteUnavailable.String())
}
