// Package eventbus is the durable event runner (spec component C2). It
// delivers named events to registered handlers with at-least-once
// semantics, per-step checkpointing, retry with backoff, cron
// scheduling, and a non-retriable failure signal that aborts a handler
// without further retry. The runner is free to back this with any
// durable store; this implementation follows the teacher's
// ticker-driven poll loop (internal/automation.FlowEngine) backed by a
// Postgres outbox table plus per-key distributed locks (Redis, or a
// Postgres advisory lock when Redis is not configured).
package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	ierrors "github.com/ignite/salesloop/internal/errors"
	"github.com/ignite/salesloop/internal/pkg/distlock"
	"github.com/ignite/salesloop/internal/pkg/logger"
)

// Event is a named, typed payload delivered to exactly one Handler.
type Event struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Type       string          `json:"type" db:"type"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	Key        string          `json:"key" db:"key"` // idempotency/serialization key: lead-id, campaign-id, ...
	Payload    json.RawMessage `json:"payload" db:"payload"`
	Attempts   int             `json:"attempts" db:"attempts"`
	MaxRetries int             `json:"max_retries" db:"max_retries"`
	NotBefore  time.Time       `json:"not_before" db:"not_before"`
	Status     string          `json:"status" db:"status"` // pending, processing, done, failed
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Handler processes one Event. Returning an *errors.Classified with
// Kind == NonRetriable aborts the handler without backoff; any other
// error is retried per Event.MaxRetries with exponential backoff.
type Handler func(ctx context.Context, sc *StepContext, ev Event) error

// Bus dispatches events to registered handlers and runs cron jobs.
type Bus struct {
	db       *sql.DB
	redis    *redis.Client
	handlers map[string]Handler
	crons    []cronJob

	interval   time.Duration
	lockTTL    time.Duration
	backoffBase time.Duration
	maxRetries int

	ctx    context.Context
	cancel context.CancelFunc
}

type cronJob struct {
	name     string
	every    time.Duration
	fn       func(ctx context.Context) error
	lastRun  time.Time
}

// Config tunes the Bus's polling cadence. Zero values fall back to
// sane defaults.
type Config struct {
	PollInterval time.Duration
	LockTTL      time.Duration
	BackoffBase  time.Duration
	MaxRetries   int
}

func New(db *sql.DB, redisClient *redis.Client, cfg Config) *Bus {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Bus{
		db:          db,
		redis:       redisClient,
		handlers:    make(map[string]Handler),
		interval:    cfg.PollInterval,
		lockTTL:     cfg.LockTTL,
		backoffBase: cfg.BackoffBase,
		maxRetries:  cfg.MaxRetries,
	}
}

// On registers a Handler for an event type.
func (b *Bus) On(eventType string, h Handler) {
	b.handlers[eventType] = h
}

// Cron registers a function to run on a fixed cadence, independent of
// the event queue (used by the Ingestor's daily pulls and the
// LearningLoop's nightly refresh).
func (b *Bus) Cron(name string, every time.Duration, fn func(ctx context.Context) error) {
	b.crons = append(b.crons, cronJob{name: name, every: every, fn: fn})
}

// Emit enqueues an event for asynchronous delivery and returns its id.
// Many events may be emitted in one batch by calling Emit repeatedly
// inside a single transaction via EmitTx.
func (b *Bus) Emit(ctx context.Context, eventType, tenantID, key string, payload any) (uuid.UUID, error) {
	return b.EmitTx(ctx, b.db, eventType, tenantID, key, payload)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EmitTx enqueues an event using the given executor, so callers can
// emit follow-up events atomically alongside their own state writes.
func (b *Bus) EmitTx(ctx context.Context, ex execer, eventType, tenantID, key string, payload any) (uuid.UUID, error) {
	id := uuid.New()
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO event_queue (id, type, tenant_id, key, payload, attempts, max_retries, not_before, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, now(), 'pending', now())`,
		id, eventType, tenantID, key, data, b.maxRetries)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Start begins polling for pending events and running cron jobs. It
// returns immediately; use Stop to shut down.
func (b *Bus) Start() {
	b.ctx, b.cancel = context.WithCancel(context.Background())
	go b.pollLoop()
	go b.cronLoop()
}

func (b *Bus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Bus) pollLoop() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.processPending()
		}
	}
}

func (b *Bus) cronLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for i := range b.crons {
				c := &b.crons[i]
				if now.Sub(c.lastRun) < c.every {
					continue
				}
				c.lastRun = now
				go func(c *cronJob) {
					if err := c.fn(b.ctx); err != nil {
						logger.Error("cron job failed", "job", c.name, "error", err.Error())
					}
				}(c)
			}
		}
	}
}

func (b *Bus) processPending() {
	rows, err := b.db.QueryContext(b.ctx, `
		SELECT id, type, tenant_id, key, payload, attempts, max_retries, not_before, status, created_at
		FROM event_queue
		WHERE status = 'pending' AND not_before <= now()
		ORDER BY created_at
		LIMIT 100`)
	if err != nil {
		logger.Error("eventbus: list pending failed", "error", err.Error())
		return
	}
	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.TenantID, &ev.Key, &ev.Payload, &ev.Attempts, &ev.MaxRetries, &ev.NotBefore, &ev.Status, &ev.CreatedAt); err != nil {
			continue
		}
		events = append(events, ev)
	}
	rows.Close()

	for _, ev := range events {
		b.dispatch(ev)
	}
}

// dispatch serializes delivery per Event.Key (spec section 5: per-lead
// or per-campaign lock) so two workers never process the same key's
// events concurrently, then invokes the handler with a fresh
// StepContext for checkpoint memoization.
func (b *Bus) dispatch(ev Event) {
	h, ok := b.handlers[ev.Type]
	if !ok {
		return
	}

	lock := distlock.NewLock(b.redis, b.db, "eventbus:"+ev.Key, b.lockTTL)
	acquired, err := lock.Acquire(b.ctx)
	if err != nil || !acquired {
		return
	}
	defer lock.Release(b.ctx)

	if _, err := b.db.ExecContext(b.ctx, `UPDATE event_queue SET status = 'processing' WHERE id = $1`, ev.ID); err != nil {
		return
	}

	sc := newStepContext(b.db, ev.ID)
	err = h(b.ctx, sc, ev)
	if err == nil {
		b.db.ExecContext(b.ctx, `UPDATE event_queue SET status = 'done' WHERE id = $1`, ev.ID)
		return
	}

	if ierrors.IsNonRetriable(err) {
		logger.Error("eventbus: non-retriable handler failure", "event_type", ev.Type, "event_id", ev.ID.String(), "error", err.Error())
		b.db.ExecContext(b.ctx, `UPDATE event_queue SET status = 'failed' WHERE id = $1`, ev.ID)
		return
	}

	attempts := ev.Attempts + 1
	if attempts > ev.MaxRetries {
		logger.Error("eventbus: retries exhausted", "event_type", ev.Type, "event_id", ev.ID.String(), "attempts", attempts, "error", err.Error())
		b.db.ExecContext(b.ctx, `UPDATE event_queue SET status = 'failed', attempts = $2 WHERE id = $1`, ev.ID, attempts)
		return
	}

	backoff := b.backoffBase * time.Duration(1<<uint(attempts-1))
	logger.Warn("eventbus: handler failed, will retry", "event_type", ev.Type, "event_id", ev.ID.String(), "attempts", attempts, "backoff", backoff.String(), "error", err.Error())
	b.db.ExecContext(b.ctx, `UPDATE event_queue SET status = 'pending', attempts = $2, not_before = $3 WHERE id = $1`,
		ev.ID, attempts, time.Now().Add(backoff))
}
