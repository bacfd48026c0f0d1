// Package summarizer turns a finished meeting's transcript into a structured summary.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-meetings/backend/internal/models"
)

// ErrEmptyTranscript is returned when there is nothing to summarize.
var ErrEmptyTranscript = errors.New("summarizer: empty transcript")

// Input is one meeting handed to a summarizer.
type Input struct {
	MeetingID      uuid.UUID
	RoomIdentifier string
	Transcripts    []models.TranscriptRecord
	Participants   []string
}

// Summarizer produces a summary for a meeting.
type Summarizer interface {
	Summarize(ctx context.Context, in Input) (*models.Summary, error)
}

// Config selects and tunes the summarizer.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

// New returns the Anthropic summarizer when an API key is configured, else the local fallback.
func New(cfg Config, logger *zap.Logger) Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		logger.Warn("ANTHROPIC_API_KEY not set, using extractive summaries")
		return Fallback{}
	}
	return NewAnthropic(cfg, logger)
}

// FormatTranscript renders records as "[15:04:05] speaker: text" lines.
func FormatTranscript(records []models.TranscriptRecord) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "[%s] %s: %s\n", r.Timestamp.UTC().Format("15:04:05"), r.Speaker, strings.TrimSpace(r.Text))
	}
	return b.String()
}

// Fallback builds a summary without a model: who spoke, how much, and the opening lines.
type Fallback struct {
	Now func() time.Time
}

const fallbackKeyPoints = 3

func (f Fallback) Summarize(_ context.Context, in Input) (*models.Summary, error) {
	if len(in.Transcripts) == 0 {
		return nil, ErrEmptyTranscript
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	lines := map[string]int{}
	for _, r := range in.Transcripts {
		lines[r.Speaker]++
	}
	speakers := make([]string, 0, len(lines))
	for s := range lines {
		speakers = append(speakers, s)
	}
	sort.Slice(speakers, func(i, j int) bool {
		if lines[speakers[i]] != lines[speakers[j]] {
			return lines[speakers[i]] > lines[speakers[j]]
		}
		return speakers[i] < speakers[j]
	})

	first, last := in.Transcripts[0].Timestamp, in.Transcripts[len(in.Transcripts)-1].Timestamp
	content := fmt.Sprintf("%d transcript lines from %d speakers over %s. Most active: %s.",
		len(in.Transcripts), len(speakers), last.Sub(first).Round(time.Second), strings.Join(speakers, ", "))

	points := make([]string, 0, fallbackKeyPoints)
	for _, r := range in.Transcripts {
		if len(points) == fallbackKeyPoints {
			break
		}
		points = append(points, r.Speaker+": "+strings.TrimSpace(r.Text))
	}
	return &models.Summary{
		Content:     content,
		KeyPoints:   points,
		ActionItems: []string{},
		Decisions:   []string{},
		GeneratedAt: now().UTC(),
	}, nil
}
