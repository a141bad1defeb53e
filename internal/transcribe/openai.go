package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/segscribe/internal/media"
)

const (
	// MaxUploadBytes is the speech service's request size ceiling.
	MaxUploadBytes = 25 * 1024 * 1024

	// Temperature is the fixed decoding temperature sent with every request.
	Temperature = 0.2

	maxErrorBody    = 4096
	maxResponseBody = 8 << 20
)

// ClientOptions configures an OpenAI-compatible transcription client.
type ClientOptions struct {
	APIKey     string
	BaseURL    string // e.g. https://api.openai.com/v1
	Model      string
	Prompt     string // optional decoding prompt; echoes are stripped from results
	Timeout    time.Duration
	HTTPClient *http.Client // nil = new client with Timeout
	Log        zerolog.Logger
}

// Client calls an OpenAI-compatible /audio/transcriptions endpoint with
// response_format=text.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	prompt  string
	echoRe  *regexp.Regexp
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new transcription client.
func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		prompt:  strings.TrimSpace(opts.Prompt),
		echoRe:  promptPattern(opts.Prompt),
		client:  hc,
		log:     opts.Log.With().Str("component", "stt").Logger(),
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return "openai" }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Transcribe uploads one segment and returns the cleaned transcript text.
// Missing, empty and oversized files fail before any network call. All
// errors are *TranscriptionError.
func (c *Client) Transcribe(ctx context.Context, seg media.Segment, opts TranscribeOpts) (string, error) {
	info, err := os.Stat(seg.Path)
	if err != nil {
		return "", &TranscriptionError{Kind: KindNotFound, Err: err}
	}
	switch size := info.Size(); {
	case size <= media.MinSegmentBytes:
		return "", &TranscriptionError{Kind: KindTooSmall, Err: fmt.Errorf("%s is %d bytes", filepath.Base(seg.Path), size)}
	case size > MaxUploadBytes:
		return "", &TranscriptionError{Kind: KindTooLarge, Err: fmt.Errorf("%s is %d bytes, limit %d", filepath.Base(seg.Path), size, MaxUploadBytes)}
	}

	audio, err := os.ReadFile(seg.Path)
	if err != nil {
		return "", &TranscriptionError{Kind: KindNotFound, Err: err}
	}

	body, contentType, err := c.buildForm(filepath.Base(seg.Path), audio, opts)
	if err != nil {
		return "", &TranscriptionError{Kind: KindNetworkError, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", &TranscriptionError{Kind: KindNetworkError, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &TranscriptionError{Kind: KindNetworkError, Err: fmt.Errorf("transcription request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &TranscriptionError{
			Kind:       KindServiceError,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(errBody)),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", &TranscriptionError{Kind: KindNetworkError, Err: fmt.Errorf("read response: %w", err)}
	}

	text := CleanText(string(raw), c.echoRe)
	c.log.Debug().
		Int("segment", seg.Index).
		Int64("bytes", info.Size()).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("segment transcribed")
	return text, nil
}

func (c *Client) buildForm(filename string, audio []byte, opts TranscribeOpts) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", c.model},
		{"response_format", "text"},
		{"temperature", fmt.Sprintf("%.2f", Temperature)},
	}
	if !opts.AutoDetect {
		lang := opts.Language
		if lang == "" {
			lang = "en"
		}
		fields = append(fields, [2]string{"language", lang})
	}
	if c.prompt != "" {
		fields = append(fields, [2]string{"prompt", c.prompt})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", f[0], err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
