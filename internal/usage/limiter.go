// Package usage enforces monthly meeting-start quotas per billing plan.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-meetings/backend/internal/models"
	"github.com/aura-meetings/backend/pkg/apperror"
)

// ErrUnknownUser is returned when the account behind a request no longer exists.
var ErrUnknownUser = errors.New("unknown user")

// Counter reads and bumps per-period meeting counts.
type Counter interface {
	// PlanAndCount returns the user's plan and meetings started in period.
	PlanAndCount(ctx context.Context, userID uuid.UUID, period string) (models.Plan, int, error)
	Increment(ctx context.Context, userID uuid.UUID, period string) error
}

// Limits are monthly meeting starts per plan. Zero or less means unlimited.
type Limits struct {
	Free int
	Pro  int
}

func (l Limits) For(plan models.Plan) int {
	if plan == models.PlanPro {
		return l.Pro
	}
	return l.Free
}

// Limiter checks and records meeting starts against the caller's plan.
type Limiter struct {
	counter Counter
	limits  Limits
	logger  *zap.Logger
	now     func() time.Time
}

// NewLimiter creates a usage limiter.
func NewLimiter(counter Counter, limits Limits, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{counter: counter, limits: limits, logger: logger, now: time.Now}
}

// Period is the quota window key for t, e.g. "2026-03".
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Check fails with LimitExceeded when the user has no meeting starts left this month.
func (l *Limiter) Check(ctx context.Context, userID uuid.UUID) error {
	const op = "usage.Check"
	plan, used, err := l.counter.PlanAndCount(ctx, userID, Period(l.now()))
	if errors.Is(err, ErrUnknownUser) {
		return apperror.Unauthorized(op, "account not found")
	}
	if err != nil {
		return apperror.Unavailable(op, err)
	}
	limit := l.limits.For(plan)
	if limit > 0 && used >= limit {
		l.logger.Info("meeting quota exhausted", zap.String("user_id", userID.String()), zap.String("plan", string(plan)), zap.Int("used", used))
		return apperror.LimitExceeded(op, fmt.Sprintf("monthly limit of %d meetings reached on the %s plan", limit, plan))
	}
	return nil
}

// RecordStart counts one started meeting for the current month.
func (l *Limiter) RecordStart(ctx context.Context, userID uuid.UUID) error {
	return l.counter.Increment(ctx, userID, Period(l.now()))
}

// PostgresCounter keeps counters in the usage_counters table.
type PostgresCounter struct {
	pool *pgxpool.Pool
}

// NewPostgresCounter creates a Postgres-backed usage counter.
func NewPostgresCounter(pool *pgxpool.Pool) *PostgresCounter {
	return &PostgresCounter{pool: pool}
}

func (c *PostgresCounter) PlanAndCount(ctx context.Context, userID uuid.UUID, period string) (models.Plan, int, error) {
	const q = `SELECT u.plan, COALESCE(uc.meetings_started, 0)
		FROM users u
		LEFT JOIN usage_counters uc ON uc.user_id = u.id AND uc.period = $2
		WHERE u.id = $1`
	var plan string
	var count int
	if err := c.pool.QueryRow(ctx, q, userID, period).Scan(&plan, &count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrUnknownUser
		}
		return "", 0, err
	}
	return models.Plan(plan), count, nil
}

func (c *PostgresCounter) Increment(ctx context.Context, userID uuid.UUID, period string) error {
	const q = `INSERT INTO usage_counters (user_id, period, meetings_started) VALUES ($1, $2, 1)
		ON CONFLICT (user_id, period) DO UPDATE SET meetings_started = usage_counters.meetings_started + 1`
	_, err := c.pool.Exec(ctx, q, userID, period)
	return err
}
