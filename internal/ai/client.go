package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"slidecast/internal/config"
	"slidecast/internal/retry"
)

// Error kinds surfaced to pipeline steps. Transient failures are retried
// inside the client; what escapes is either permanent or retries-exhausted.
var (
	ErrPermanent = errors.New("external api permanent failure")
	ErrTransient = errors.New("external api transient failure")
	ErrTTSEmpty  = errors.New("tts returned empty audio")
)

// Service is the slice of the AI provider the pipeline consumes.
type Service interface {
	Chat(ctx context.Context, system, user string) (string, error)
	Vision(ctx context.Context, prompt, imagePath string) (string, error)
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
	Speech(ctx context.Context, text, voice, outPath string) error
	GenerateImage(ctx context.Context, prompt, outPath string) error
}

// Client talks to an OpenAI-compatible API over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	chatModel   string
	visionModel string
	imageModel  string
	ttsModel    string
	ttsVoice    string

	retries     int
	backoffBase time.Duration
}

// New builds a client from config. It does not dial anything; the first
// request surfaces credential problems.
func New(cfg *config.Config) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.APITimeout},
		baseURL:     strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		apiKey:      cfg.OpenAIAPIKey,
		chatModel:   cfg.ChatModel,
		visionModel: cfg.VisionModel,
		imageModel:  cfg.ImageModel,
		ttsModel:    cfg.TTSModel,
		ttsVoice:    cfg.TTSVoice,
		retries:     cfg.APIRetries,
		backoffBase: cfg.APIBackoff,
	}
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Chat sends one system+user exchange and returns the assistant text.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	var resp chatResponse
	err := c.postJSON(ctx, "/chat/completions", chatRequest{
		Model:    c.chatModel,
		Messages: messages,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat returned no choices", ErrPermanent)
	}
	return resp.Choices[0].Message.Content, nil
}

// Vision sends a prompt plus one local image encoded as a data URI and
// returns the assistant text.
func (c *Client) Vision(ctx context.Context, prompt, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", imagePath, err)
	}

	uri := fmt.Sprintf("data:%s;base64,%s",
		imageMIME(imagePath), base64.StdEncoding.EncodeToString(data))

	var resp chatResponse
	err = c.postJSON(ctx, "/chat/completions", chatRequest{
		Model: c.visionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: uri}},
			},
		}},
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: vision returned no choices", ErrPermanent)
	}
	return resp.Choices[0].Message.Content, nil
}

// Translate rewrites text into targetLanguage, keeping tone and formatting.
func (c *Client) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	system := fmt.Sprintf(
		"You are a professional translator. Translate the user's text into %s. "+
			"Preserve formatting, numbers and proper nouns. Reply with the translation only.",
		targetLanguage)
	return c.Chat(ctx, system, text)
}

// Speech synthesizes text to an mp3 file at outPath.
func (c *Client) Speech(ctx context.Context, text, voice, outPath string) error {
	if voice == "" {
		voice = c.ttsVoice
	}

	body, err := json.Marshal(speechRequest{
		Model:          c.ttsModel,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return fmt.Errorf("marshal speech request: %w", err)
	}

	var audio []byte
	err = retry.Do(ctx, retry.APIBackoff(c.backoffBase, c.retries), func() error {
		data, reqErr := c.postRaw(ctx, "/audio/speech", body)
		if reqErr != nil {
			return reqErr
		}
		audio = data
		return nil
	})
	if err != nil {
		return err
	}
	if len(audio) == 0 {
		return ErrTTSEmpty
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	if err := os.WriteFile(outPath, audio, 0o644); err != nil {
		return fmt.Errorf("write audio %s: %w", outPath, err)
	}
	return nil
}

// GenerateImage renders a prompt to a PNG file at outPath.
func (c *Client) GenerateImage(ctx context.Context, prompt, outPath string) error {
	var resp imageResponse
	err := c.postJSON(ctx, "/images/generations", imageRequest{
		Model:          c.imageModel,
		Prompt:         prompt,
		N:              1,
		ResponseFormat: "b64_json",
	}, &resp)
	if err != nil {
		return err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return fmt.Errorf("%w: image generation returned no data", ErrPermanent)
	}

	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return fmt.Errorf("%w: decode image data: %w", ErrPermanent, err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	if err := os.WriteFile(outPath, img, 0o644); err != nil {
		return fmt.Errorf("write image %s: %w", outPath, err)
	}
	return nil
}

// postJSON posts a JSON body and decodes a JSON response, retrying
// transient failures.
func (c *Client) postJSON(ctx context.Context, path string, reqBody, out interface{}) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(ctx, retry.APIBackoff(c.backoffBase, c.retries), func() error {
		raw, err := c.postRaw(ctx, path, body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return retry.Permanent(fmt.Errorf("%w: decode response: %w", ErrPermanent, err))
		}
		return nil
	})
}

// postRaw performs one POST and classifies the outcome. Returned errors are
// already marked permanent where retrying cannot help.
func (c *Client) postRaw(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: build request: %w", ErrPermanent, err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures are worth another attempt.
		return nil, fmt.Errorf("%w: %s: %w", ErrTransient, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrTransient, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		slog.Warn("AI request will be retried", "path", path, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrTransient, path, resp.StatusCode, truncate(data))
	default:
		return nil, retry.Permanent(fmt.Errorf("%w: %s returned %d: %s", ErrPermanent, path, resp.StatusCode, truncate(data)))
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func imageMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
