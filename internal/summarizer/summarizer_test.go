package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-meetings/backend/internal/models"
)

func sampleInput() Input {
	base := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	return Input{
		MeetingID:      uuid.New(),
		RoomIdentifier: "design-review",
		Participants:   []string{"alice", "bob"},
		Transcripts: []models.TranscriptRecord{
			{Speaker: "alice", Text: "Let's ship the new onboarding on Friday.", Timestamp: base},
			{Speaker: "bob", Text: "I'll update the docs.", Timestamp: base.Add(20 * time.Second)},
			{Speaker: "alice", Text: "Great, decided.", Timestamp: base.Add(45 * time.Second)},
		},
	}
}

// messagesRequest is the part of a Messages API request the fake server checks.
type messagesRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func anthropicServer(t *testing.T, status int, reply string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req messagesRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-test", req.Model)
		assert.Equal(t, defaultMaxTokens, req.MaxTokens)
		if assert.Len(t, req.System, 1) {
			assert.Equal(t, systemPrompt, req.System[0].Text)
		}
		if assert.Len(t, req.Messages, 1) && assert.Len(t, req.Messages[0].Content, 1) {
			assert.Equal(t, "user", req.Messages[0].Role)
			assert.Contains(t, req.Messages[0].Content[0].Text, "[14:00:20] bob: I'll update the docs.")
			assert.Contains(t, req.Messages[0].Content[0].Text, "Participants: alice, bob")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(reply))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"content":       []map[string]string{{"type": "text", "text": reply}},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]int{"input_tokens": 120, "output_tokens": 40},
		})
	}))
}

func TestAnthropic_Summarize(t *testing.T) {
	var calls int32
	reply := "Here you go:\n```json\n" +
		`{"content":"Onboarding ships Friday.","key_points":["ship Friday"],"action_items":["bob: update docs"],"decisions":["ship"]}` +
		"\n```"
	srv := anthropicServer(t, http.StatusOK, reply, &calls)
	defer srv.Close()

	a := NewAnthropic(Config{APIKey: "test-key", Model: "claude-test", BaseURL: srv.URL}, nil)
	fixed := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	s, err := a.Summarize(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "Onboarding ships Friday.", s.Content)
	assert.Equal(t, []string{"bob: update docs"}, s.ActionItems)
	assert.Equal(t, []string{"ship"}, s.Decisions)
	assert.Equal(t, fixed, s.GeneratedAt)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestAnthropic_NonJSONReplyBecomesContent(t *testing.T) {
	var calls int32
	srv := anthropicServer(t, http.StatusOK, "They agreed to ship on Friday.", &calls)
	defer srv.Close()

	a := NewAnthropic(Config{APIKey: "test-key", Model: "claude-test", BaseURL: srv.URL}, nil)
	s, err := a.Summarize(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "They agreed to ship on Friday.", s.Content)
	assert.NotNil(t, s.KeyPoints)
	assert.Empty(t, s.KeyPoints)
}

func TestAnthropic_BreakerOpensAfterFailures(t *testing.T) {
	var calls int32
	srv := anthropicServer(t, http.StatusInternalServerError, `{"type":"error","error":{"type":"api_error","message":"overloaded"}}`, &calls)
	defer srv.Close()

	a := NewAnthropic(Config{APIKey: "test-key", Model: "claude-test", BaseURL: srv.URL}, nil)
	for i := 0; i < 5; i++ {
		_, err := a.Summarize(context.Background(), sampleInput())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 500")
		var apiErr *anthropic.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	}
	_, err := a.Summarize(context.Background(), sampleInput())
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.EqualValues(t, 5, atomic.LoadInt32(&calls))
}

func TestAnthropic_EmptyTranscript(t *testing.T) {
	a := NewAnthropic(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := a.Summarize(context.Background(), Input{MeetingID: uuid.New()})
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestFallback(t *testing.T) {
	fixed := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	s, err := Fallback{Now: func() time.Time { return fixed }}.Summarize(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.Content, "3 transcript lines from 2 speakers over 45s."), s.Content)
	assert.Contains(t, s.Content, "Most active: alice, bob")
	assert.Len(t, s.KeyPoints, 3)
	assert.Equal(t, "alice: Let's ship the new onboarding on Friday.", s.KeyPoints[0])
	assert.Equal(t, fixed, s.GeneratedAt)

	_, err = Fallback{}.Summarize(context.Background(), Input{})
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestNew_SelectsImplementation(t *testing.T) {
	assert.IsType(t, Fallback{}, New(Config{}, nil))
	assert.IsType(t, &Anthropic{}, New(Config{APIKey: "k"}, nil))
}
