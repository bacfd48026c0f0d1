package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MEETINGS_STORE", "")
	t.Setenv("MEETINGS_DISPATCH_TIMEOUT", "")
	t.Setenv("DATABASE_URL", "")
	for _, key := range []string{"CORS_MAX_AGE", "JWT_ISSUER", "DB_MAX_CONNS", "REDIS_POOL_SIZE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Meetings.Store)
	assert.Equal(t, 5*time.Second, cfg.Meetings.DispatchTimeout)
	assert.Equal(t, 10, cfg.Usage.FreeMonthlyMeetings)
	assert.Equal(t, 0, cfg.Usage.ProMonthlyMeetings)
	assert.Equal(t, 12*time.Hour, cfg.Server.CORSMaxAge)
	assert.Equal(t, "aura-meetings", cfg.JWT.Issuer)
	assert.Zero(t, cfg.Database.MaxConns)
	assert.Zero(t, cfg.Redis.PoolSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MEETINGS_STORE", "Memory")
	t.Setenv("MEETINGS_DISPATCH_TIMEOUT", "750ms")
	t.Setenv("MEETINGS_ENDING_GRACE", "45")
	t.Setenv("SUMMARY_WORKERS", "0")
	t.Setenv("CORS_MAX_AGE", "600")
	t.Setenv("DB_MAX_CONNS", "20")
	t.Setenv("REDIS_POOL_SIZE", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Meetings.Store)
	assert.Equal(t, 750*time.Millisecond, cfg.Meetings.DispatchTimeout)
	assert.Equal(t, 45*time.Second, cfg.Meetings.EndingGrace)
	assert.Equal(t, 1, cfg.Summary.WorkerCount)
	assert.Equal(t, 10*time.Minute, cfg.Server.CORSMaxAge)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
	assert.Equal(t, 50, cfg.Redis.PoolSize)
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("MEETINGS_STORE", "mongo")
	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: "5432", DBName: "aura", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/aura?sslmode=disable", c.DSN())

	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}
