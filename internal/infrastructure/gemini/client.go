package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
)

// Client - клиент AI-анализа (Gemini-совместимый endpoint).
// Реализует domain.AnalysisProvider. Без endpoint/ключа работает в
// выключенном режиме: джобы анализа репортят и выходят.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Enabled() bool {
	return c.endpoint != "" && c.apiKey != ""
}

// Analyze отправляет свечи в модель и возвращает текст рекомендации.
func (c *Client) Analyze(ctx context.Context, asset string, candles map[string][]domain.Candle) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("analysis provider is not configured")
	}

	prompt, err := buildPrompt(asset, candles)
	if err != nil {
		return "", err
	}

	payload := generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: prompt}},
		}},
		GenerationConfig: generationConfig{
			Temperature:     0.9,
			TopP:            0.95,
			MaxOutputTokens: 500,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("analysis api returned %d: %s", resp.StatusCode, truncate(respBytes, 200))
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse analysis response: %w", err)
	}

	text := parsed.text()
	if text == "" {
		return "", fmt.Errorf("analysis response contained no candidates")
	}
	return text, nil
}

func buildPrompt(asset string, candles map[string][]domain.Candle) (string, error) {
	series, err := json.Marshal(candles)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"You are a professional forex analyst. Analyze %s using the OHLCV candles "+
			"below (keyed by timeframe) and give a concise trade recommendation with "+
			"entry, stop loss and take profit levels.\n\n%s",
		asset, series,
	), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// --- Wire DTOs ---

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) text() string {
	for _, cand := range r.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}
