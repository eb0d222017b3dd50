// Package llm is the AI-completion collaborator: it asks a Claude model for
// the contract fields the pattern pipeline could not extract. The engine
// never depends on it existing; a nil *Client simply means no escalation.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// ErrUnavailable signals that completion cannot be obtained right now:
// exhausted daily budget or repeated API failure. Callers degrade, never
// retry inside the same document.
var ErrUnavailable = errors.New("completion collaborator unavailable")

const (
	maxAttempts     = 3
	backoffBase     = 2 * time.Second
	maxDocumentSize = 30000 // runes of document text sent per request
)

// PartialRecord holds the completed field values, keyed by field name.
type PartialRecord = map[string]string

// Config tunes the collaborator.
type Config struct {
	APIKey            string
	Model             string
	MaxTokens         int
	RequestsPerMinute int
	RequestsPerDay    int
}

// Client talks to the Anthropic API under a requests-per-minute ceiling and
// a daily budget. Safe for concurrent use.
type Client struct {
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	logger    *slog.Logger

	send func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)

	mu       sync.Mutex
	day      string
	usedHoje int
	dailyCap int

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds the collaborator. The API key is required; model and
// limits fall back to sane defaults.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key required: %w", ErrUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 20
	}
	if cfg.RequestsPerDay <= 0 {
		cfg.RequestsPerDay = 2000
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		logger:    logger,
		dailyCap:  cfg.RequestsPerDay,
		send: func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
			return api.Messages.New(ctx, params)
		},
		sleep: sleepCtx,
	}, nil
}

const systemPrompt = `Você extrai campos de contratos de energia brasileiros.
Responda somente com um objeto JSON. Não invente valores: um campo que não
aparece no documento deve ser omitido da resposta.`

// TryComplete asks the model for the missing fields. Only the requested
// fields come back; values the model did not find are absent, never guessed.
func (c *Client) TryComplete(ctx context.Context, docText string, missing []string) (PartialRecord, error) {
	if len(missing) == 0 {
		return PartialRecord{}, nil
	}
	if err := c.consumeDailyBudget(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(docText, missing))),
		},
	}

	start := time.Now()
	resp, err := c.sendWithBackoff(ctx, params)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	record, err := decodePartialRecord(text.String(), missing)
	if err != nil {
		return nil, fmt.Errorf("completion response: %w", err)
	}

	c.logger.Debug("completion obtained",
		"requested", len(missing),
		"filled", len(record),
		"duration_ms", time.Since(start).Milliseconds())
	return record, nil
}

// sendWithBackoff retries rate-limit and overload responses with exponential
// backoff. Anything else fails immediately.
func (c *Client) sendWithBackoff(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	delay := backoffBase
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.send(ctx, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, fmt.Errorf("completion request: %w", err)
		}
		c.logger.Warn("completion throttled", "attempt", attempt, "backoff", delay, "error", err)
		if attempt < maxAttempts {
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func retryable(err error) bool {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == 429 || apierr.StatusCode == 529
	}
	return false
}

// consumeDailyBudget counts one request against today's cap, rolling the
// counter over at midnight.
func (c *Client) consumeDailyBudget() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if c.day != today {
		c.day = today
		c.usedHoje = 0
	}
	if c.usedHoje >= c.dailyCap {
		return fmt.Errorf("daily budget of %d requests exhausted: %w", c.dailyCap, ErrUnavailable)
	}
	c.usedHoje++
	return nil
}

func buildPrompt(docText string, missing []string) string {
	var b strings.Builder
	b.WriteString("Extraia os seguintes campos do contrato abaixo e responda com JSON no formato\n{")
	for i, field := range missing {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: \"...\"", field)
	}
	b.WriteString("}\n\nCONTRATO:\n")
	b.WriteString(truncateRunes(docText, maxDocumentSize))
	return b.String()
}

// decodePartialRecord is deliberately lenient: models wrap JSON in code
// fences or prose, so the first balanced object in the text is decoded.
func decodePartialRecord(text string, missing []string) (PartialRecord, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in %q", truncateRunes(text, 120))
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &raw); err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(missing))
	for _, f := range missing {
		requested[f] = true
	}

	record := PartialRecord{}
	for key, value := range raw {
		if !requested[key] {
			continue
		}
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" || strings.EqualFold(s, "null") {
			continue
		}
		record[key] = strings.TrimSpace(s)
	}
	return record, nil
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
