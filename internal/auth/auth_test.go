package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-meetings/backend/internal/models"
)

type fakeUsers struct {
	byEmail map[string]*models.User
	err     error
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) Create(_ context.Context, email, hash, fullName string, plan models.Plan) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.byEmail[email]; ok {
		return nil, ErrEmailTaken
	}
	u := &models.User{ID: uuid.New(), Email: email, Password: hash, FullName: fullName, Plan: plan, CreatedAt: time.Now()}
	f.byEmail[email] = u
	return u, nil
}

const testIssuer = "aura-meetings"

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", testIssuer, time.Hour)
	id := uuid.New()
	token, err := svc.Generate(id, "a@example.com", "Alice")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, id.String(), claims.Subject)
	assert.Equal(t, "Alice", claims.Name)

	_, err = NewJWTService("other", testIssuer, time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("secret", testIssuer, time.Hour)

	expired, err := NewJWTService("secret", testIssuer, -time.Hour).Generate(uuid.New(), "a@example.com", "A")
	require.NoError(t, err)
	otherIssuer, err := NewJWTService("secret", "someone-else", time.Hour).Generate(uuid.New(), "a@example.com", "A")
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, claims Claims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		return token
	}
	id := uuid.New()
	valid := jwt.RegisteredClaims{
		Issuer:    testIssuer,
		Subject:   id.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	otherSubject := valid
	otherSubject.Subject = uuid.NewString()

	tokens := map[string]string{
		"expired":          expired,
		"wrong issuer":     otherIssuer,
		"nil user":         sign(jwt.SigningMethodHS256, Claims{RegisteredClaims: valid}),
		"no expiry":        sign(jwt.SigningMethodHS256, Claims{UserID: id, RegisteredClaims: noExpiry}),
		"subject mismatch": sign(jwt.SigningMethodHS256, Claims{UserID: id, RegisteredClaims: otherSubject}),
		"hs512":            sign(jwt.SigningMethodHS512, Claims{UserID: id, RegisteredClaims: valid}),
		"garbage":          "a.b.c",
	}
	for name, token := range tokens {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Validate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTService_ToleratesClockSkew(t *testing.T) {
	svc := NewJWTService("secret", testIssuer, time.Minute)
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }
	token, err := svc.Generate(uuid.New(), "a@example.com", "A")
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(time.Minute + 10*time.Second) }
	_, err = svc.Validate(token)
	assert.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func newAuthRouter(users Users) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(users, NewJWTService("secret", testIssuer, time.Hour), nil)
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	users := &fakeUsers{byEmail: map[string]*models.User{}}
	r := newAuthRouter(users)

	w := post(r, "/auth/register", `{"email":"Alice@Example.com","password":"hunter22","full_name":"Alice"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body struct {
		Data TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Data.Token)
	assert.Equal(t, "alice@example.com", body.Data.User.Email)
	assert.Equal(t, models.PlanFree, body.Data.User.Plan)
	assert.NotContains(t, w.Body.String(), "hunter22")

	w = post(r, "/auth/register", `{"email":"alice@example.com","password":"hunter22","full_name":"Alice"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"email":"alice@example.com","password":"hunter22"}`, http.StatusOK},
		{"wrong password", `{"email":"alice@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"unknown email", `{"email":"bob@example.com","password":"hunter22"}`, http.StatusUnauthorized},
		{"invalid body", `{"email":"not-an-email"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(r, "/auth/login", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestRegister_StoreDown(t *testing.T) {
	r := newAuthRouter(&fakeUsers{byEmail: map[string]*models.User{}, err: errors.New("conn refused")})
	w := post(r, "/auth/register", `{"email":"a@example.com","password":"hunter22","full_name":"A"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	users := &fakeUsers{byEmail: map[string]*models.User{}}
	r := newAuthRouter(users)
	w := post(r, "/auth/register", `{"email":"a@example.com","password":"`+strings.Repeat("x", 73)+`","full_name":"A"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, users.byEmail)
}
