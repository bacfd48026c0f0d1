package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/aura-meetings/backend/internal/metrics"
	"github.com/aura-meetings/backend/internal/models"
)

const (
	defaultModel     = "claude-haiku-4-5"
	defaultMaxTokens = 2048
	defaultTimeout   = 60 * time.Second
)

const systemPrompt = `You summarize video meetings. Reply with a single JSON object and nothing else:
{"content": "<short paragraph>", "key_points": ["..."], "action_items": ["..."], "decisions": ["..."]}
Use empty arrays when a section has nothing. Attribute action items to people by name when the transcript says who owns them.`

// ErrBreakerOpen is returned while the circuit breaker rejects calls.
var ErrBreakerOpen = errors.New("summarizer: circuit open")

// Anthropic summarizes through the Anthropic Messages API.
type Anthropic struct {
	cfg     Config
	client  anthropic.Client
	breaker *gobreaker.CircuitBreaker[*models.Summary]
	logger  *zap.Logger
	now     func() time.Time
}

// NewAnthropic creates a Messages API summarizer guarded by a circuit breaker.
// Five consecutive failures open the circuit for a minute. The client does not retry on
// its own: failed jobs go back through the queue's retry and dead-letter path.
func NewAnthropic(cfg Config, logger *zap.Logger) *Anthropic {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	a := &Anthropic{
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
		logger: logger,
		now:    time.Now,
	}
	metrics.SummarizerBreakerState.Set(0)
	a.breaker = gobreaker.NewCircuitBreaker[*models.Summary](gobreaker.Settings{
		Name:        "anthropic-summarizer",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("summarizer breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.SummarizerBreakerState.Set(float64(to))
		},
		IsSuccessful: func(err error) bool {
			// Context cancellation says nothing about the API's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return a
}

type summaryJSON struct {
	Content     string   `json:"content"`
	KeyPoints   []string `json:"key_points"`
	ActionItems []string `json:"action_items"`
	Decisions   []string `json:"decisions"`
}

// Summarize implements Summarizer.
func (a *Anthropic) Summarize(ctx context.Context, in Input) (*models.Summary, error) {
	if len(in.Transcripts) == 0 {
		return nil, ErrEmptyTranscript
	}
	start := time.Now()
	s, err := a.breaker.Execute(func() (*models.Summary, error) {
		return a.call(ctx, in)
	})
	metrics.RecordSummary(time.Since(start))
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	return s, err
}

func (a *Anthropic) call(ctx context.Context, in Input) (*models.Summary, error) {
	var prompt strings.Builder
	prompt.WriteString("Room: " + in.RoomIdentifier + "\n")
	if len(in.Participants) > 0 {
		prompt.WriteString("Participants: " + strings.Join(in.Participants, ", ") + "\n")
	}
	prompt.WriteString("\nTranscript:\n")
	prompt.WriteString(FormatTranscript(in.Transcripts))

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(a.cfg.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.String())),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("anthropic API error (HTTP %d): %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("calling anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, errors.New("empty response from anthropic")
	}
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		a.logger.Warn("summary truncated at max_tokens", zap.String("meeting_id", in.MeetingID.String()))
	}
	s := parseSummary(text.String())
	s.GeneratedAt = a.now().UTC()
	return s, nil
}

// parseSummary reads the JSON object out of the model's reply. Prose around the object and
// markdown fences are ignored; a reply with no usable object becomes the summary content.
func parseSummary(text string) *models.Summary {
	var parsed summaryJSON
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start && json.Unmarshal([]byte(text[start:end+1]), &parsed) == nil && parsed.Content != "" {
		return &models.Summary{
			Content:     parsed.Content,
			KeyPoints:   nonNil(parsed.KeyPoints),
			ActionItems: nonNil(parsed.ActionItems),
			Decisions:   nonNil(parsed.Decisions),
		}
	}
	return &models.Summary{
		Content:     strings.TrimSpace(text),
		KeyPoints:   []string{},
		ActionItems: []string{},
		Decisions:   []string{},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
