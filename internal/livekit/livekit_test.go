package livekit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-meetings/backend/config"
	"github.com/aura-meetings/backend/internal/middleware"
	"github.com/aura-meetings/backend/internal/models"
	"github.com/aura-meetings/backend/pkg/utils"
)

const (
	testKey    = "APIkey123"
	testSecret = "secret-secret-secret-secret-secret"
)

func TestGenerateJoinToken(t *testing.T) {
	tok, err := GenerateJoinToken(testKey, testSecret, JoinTokenParams{Room: "standup-1", Identity: "u1", Name: "Alice", CanPublish: true, TTL: time.Hour})
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (interface{}, error) { return []byte(testSecret), nil })
	require.NoError(t, err)
	assert.Equal(t, testKey, claims["iss"])
	assert.Equal(t, "u1", claims["sub"])
	assert.Equal(t, "Alice", claims["name"])
	video, ok := claims["video"].(map[string]interface{})
	require.True(t, ok, "video grant present")
	assert.Equal(t, true, video["roomJoin"])
	assert.Equal(t, "standup-1", video["room"])
	assert.Equal(t, true, video["canPublish"])
	assert.Equal(t, true, video["canSubscribe"])
	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp.Time, 5*time.Second)

	tok, err = GenerateJoinToken(testKey, testSecret, JoinTokenParams{Room: "r", Identity: "viewer"})
	require.NoError(t, err)
	claims = jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (interface{}, error) { return []byte(testSecret), nil })
	require.NoError(t, err)
	video = claims["video"].(map[string]interface{})
	assert.Equal(t, false, video["canPublish"])
	exp, err = claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(defaultTokenTTL), exp.Time, 5*time.Second)

	_, err = GenerateJoinToken("", testSecret, JoinTokenParams{Room: "r", Identity: "u"})
	assert.Error(t, err)
	_, err = GenerateJoinToken(testKey, testSecret, JoinTokenParams{Room: "r"})
	assert.Error(t, err)
}

func signedRequest(t *testing.T, key, secret string, signed, sent []byte) *http.Request {
	t.Helper()
	sum := sha256.Sum256(signed)
	tok, err := auth.NewAccessToken(key, secret).
		SetValidFor(5 * time.Minute).
		SetSha256(base64.StdEncoding.EncodeToString(sum[:])).
		ToJWT()
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/livekit", bytes.NewReader(sent))
	req.Header.Set("Authorization", tok)
	return req
}

func TestVerifier(t *testing.T) {
	body := []byte(`{"event":"participant_left","id":"EV_1","room":{"name":"standup-1","numParticipants":1},"participant":{"identity":"u1"},"someFutureField":true}`)
	v := NewVerifier(testKey, testSecret)

	ev, err := v.Verify(signedRequest(t, testKey, testSecret, body, body))
	require.NoError(t, err)
	assert.Equal(t, EventParticipantLeft, ev.GetEvent())
	assert.Equal(t, "EV_1", ev.GetId())
	assert.Equal(t, "standup-1", ev.GetRoom().GetName())
	assert.Equal(t, "u1", ev.GetParticipant().GetIdentity())

	unsigned := httptest.NewRequest(http.MethodPost, "/webhooks/livekit", bytes.NewReader(body))
	_, err = v.Verify(unsigned)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, webhook.ErrNoAuthHeader)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"wrong secret", signedRequest(t, testKey, "other-secret-other-secret", body, body)},
		{"unknown key", signedRequest(t, "someone-else", testSecret, body, body)},
		{"tampered body", signedRequest(t, testKey, testSecret, body, []byte(`{"event":"room_finished"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.req)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}

	garbage := []byte(`not json`)
	_, err = v.Verify(signedRequest(t, testKey, testSecret, garbage, garbage))
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

type roomMap map[string]*models.Room

func (m roomMap) GetByIdentifier(_ context.Context, id string) (*models.Room, error) { return m[id], nil }

func TestHandler_GetToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hash, err := utils.HashSecret("1234")
	require.NoError(t, err)
	rooms := roomMap{
		"open":   {Identifier: "open"},
		"locked": {Identifier: "locked", PasscodeHash: hash, HasPasscode: true},
	}
	userID := uuid.New()
	h := NewHandler(rooms, config.LiveKitConfig{URL: "wss://lk.example", APIKey: testKey, APISecret: testSecret, TokenTTL: time.Hour}, nil)
	r := gin.New()
	r.GET("/rooms/:identifier/token", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextUserName, "Alice")
		c.Next()
	}, h.GetToken)

	tests := []struct {
		path   string
		status int
	}{
		{"/rooms/open/token", http.StatusOK},
		{"/rooms/locked/token", http.StatusForbidden},
		{"/rooms/locked/token?passcode=1234", http.StatusOK},
		{"/rooms/missing/token", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			var body struct {
				Data TokenResponse `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Data.Token)
			assert.Equal(t, "wss://lk.example", body.Data.URL)
			assert.Equal(t, userID.String(), body.Data.Identity)
		})
	}
}

func TestHandler_NotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(roomMap{}, config.LiveKitConfig{}, nil)
	r := gin.New()
	r.GET("/rooms/:identifier/token", h.GetToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/open/token", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
