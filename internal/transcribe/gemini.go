package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kikiluvv/captionburn/internal/captions"
	"github.com/rs/zerolog"
)

const (
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel    = "gemini-3-flash-preview"
	DefaultTimeout  = 5 * time.Minute
)

// Config captures the runtime settings required to talk to Gemini
type Config struct {
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Gemini calls the generateContent REST API with the video inlined and a
// JSON response schema describing caption entries
type Gemini struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option customizes the client
type Option func(*Gemini)

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gemini) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithLogger sets the logger used for failure details
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gemini) { g.logger = logger }
}

// NewGemini constructs a Gemini engine
func NewGemini(cfg Config, opts ...Option) *Gemini {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	g := &Gemini{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "transcribe").Str("model", cfg.Model).Logger()
	return g
}

// Transcribe sends the video and returns its captions. Any failure,
// network or model, comes back as ErrProcessingFailure; nothing is retried.
func (g *Gemini) Transcribe(ctx context.Context, video []byte, mimeType, language string) ([]captions.Entry, error) {
	entries, err := g.transcribe(ctx, video, mimeType, language)
	if err != nil {
		g.logger.Error().Err(err).Str("language", language).Msg("transcription failed")
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailure, err)
	}
	g.logger.Info().Int("captions", len(entries)).Str("language", language).Msg("transcription complete")
	return entries, nil
}

func (g *Gemini) transcribe(ctx context.Context, video []byte, mimeType, language string) ([]captions.Entry, error) {
	if len(video) == 0 {
		return nil, errors.New("video is empty")
	}
	if g.cfg.APIKey == "" {
		return nil, errors.New("api key required")
	}
	language = strings.TrimSpace(language)
	if language == "" {
		language = "English"
	}
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	payload := generateRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(video)}},
				{Text: Prompt(language)},
			},
		}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   captionSchema,
		},
	}

	text, err := g.generate(ctx, payload)
	if err != nil {
		return nil, err
	}
	return parseEntries(text)
}

// Prompt is the instruction sent alongside the video
func Prompt(language string) string {
	return fmt.Sprintf(`Transcribe and translate the audio from this video into %[1]s subtitles.
Isolate speech from background noise. Return a JSON array of objects.
Requirements:
- Each object has 'startTime' (float seconds), 'endTime' (float seconds), and 'text' (translated subtitle in %[1]s).
- Synchronize timing perfectly with spoken words.
- If multiple speakers exist, maintain a conversational flow.`, language)
}

func (g *Gemini) generate(ctx context.Context, payload generateRequest) (string, error) {
	endpoint, err := url.JoinPath(g.cfg.Endpoint, "models", g.cfg.Model+":generateContent")
	if err != nil {
		return "", fmt.Errorf("build url: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	g.logger.Debug().Int("bytes", len(encoded)).Msg("sending generateContent request")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error (timeout=%s): %w", g.cfg.Timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, snippet(body))
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("model error: %s", decoded.Error.Message)
	}
	for _, cand := range decoded.Candidates {
		for _, p := range cand.Content.Parts {
			if text := strings.TrimSpace(p.Text); text != "" {
				return text, nil
			}
		}
	}
	reason := ""
	if len(decoded.Candidates) > 0 {
		reason = decoded.Candidates[0].FinishReason
	}
	return "", fmt.Errorf("empty response (finish_reason=%q)", reason)
}

// parseEntries decodes the model's JSON array, tolerating a code fence,
// and assigns fresh ids. Items with impossible timing are dropped.
func parseEntries(text string) ([]captions.Entry, error) {
	text = stripFence(text)
	var items []struct {
		StartTime float64 `json:"startTime"`
		EndTime   float64 `json:"endTime"`
		Text      string  `json:"text"`
	}
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("parse captions: %w", err)
	}

	entries := make([]captions.Entry, 0, len(items))
	for _, item := range items {
		e := captions.Entry{
			ID:    captions.NewID(),
			Start: item.StartTime,
			End:   item.EndTime,
			Text:  strings.TrimSpace(item.Text),
		}
		if e.Validate() != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	InlineData *inlineData `json:"inlineData,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMimeType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

var captionSchema = map[string]any{
	"type": "ARRAY",
	"items": map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"startTime": map[string]any{"type": "NUMBER"},
			"endTime":   map[string]any{"type": "NUMBER"},
			"text":      map[string]any{"type": "STRING"},
		},
		"required": []string{"startTime", "endTime", "text"},
	},
}
