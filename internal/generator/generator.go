// Package generator adapts an OpenAI-compatible endpoint for question
// and image generation. Failures never reach the state machine: callers
// treat any error as an empty batch so manual entry stays possible.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/persimon-pro/maybeu-live/internal/domain"
)

// Generator produces quiz content. Implementations must degrade to an
// empty result on provider failure rather than surface a fatal error.
type Generator interface {
	GenerateQuestions(ctx context.Context, topic, language string, count int, mood string) ([]domain.Question, error)
	GenerateFactChecks(ctx context.Context, topic, language string, count int) ([]domain.Question, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Config configures the HTTP client. An empty APIKey disables the
// generator entirely: every call returns an empty batch.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	ImageModel string
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &Client{cfg: cfg}
}

func (c *Client) GenerateQuestions(ctx context.Context, topic, language string, count int, mood string) ([]domain.Question, error) {
	if topic == "" {
		topic = "Party"
	}
	prompt := fmt.Sprintf(`Generate %d quiz questions about %q. Language: %s. Mood: %s.
Return strictly a JSON array: [{"id":"1","text":"...","options":["A","B","C","D"],"correctAnswerIndex":0}]`,
		count, topic, language, mood)

	return c.questionBatch(ctx, prompt, nil)
}

// GenerateFactChecks produces the two-option True/False variant.
func (c *Client) GenerateFactChecks(ctx context.Context, topic, language string, count int) ([]domain.Question, error) {
	if topic == "" {
		topic = "Party"
	}
	prompt := fmt.Sprintf(`Generate %d True/False facts about %q. Language: %s.
Return strictly a JSON array: [{"id":"1","text":"...","correctAnswerIndex":0,"options":["True","False"]}]`,
		count, topic, language)

	return c.questionBatch(ctx, prompt, []string{"True", "False"})
}

func (c *Client) questionBatch(ctx context.Context, prompt string, forceOptions []string) ([]domain.Question, error) {
	if c.cfg.APIKey == "" {
		return nil, nil
	}

	text, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var batch []domain.Question
	if err := json.Unmarshal([]byte(stripFences(text)), &batch); err != nil {
		return nil, fmt.Errorf("generator: malformed batch: %w", err)
	}

	for i := range batch {
		batch[i].ID = uuid.NewString()
		if forceOptions != nil {
			batch[i].Options = forceOptions
		}
	}

	return batch, nil
}

// GenerateImage returns a data URI for the rendered prompt.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", nil
	}

	reqBody := map[string]any{
		"prompt":          prompt,
		"n":               1,
		"response_format": "b64_json",
	}
	if c.cfg.ImageModel != "" {
		reqBody["model"] = c.cfg.ImageModel
	}

	var resp struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/images/generations", reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", nil
	}
	if resp.Data[0].URL != "" {
		return resp.Data[0].URL, nil
	}

	return "data:image/png;base64," + resp.Data[0].B64JSON, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/chat/completions", reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generator: empty completion")
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("generator: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.cfg.BaseURL, "/")+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("generator: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("generator: call provider: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("generator: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generator: provider status %d", resp.StatusCode)
	}

	return json.Unmarshal(payload, out)
}

// stripFences removes the ```json fences models wrap batches in.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
