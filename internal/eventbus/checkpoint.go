package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
)

// StepContext threads checkpoint memoization through a handler so that
// replay after crash or retry re-executes only the steps that have not
// yet recorded a result. Handlers must not rely on local variables
// surviving a process restart; any value a later step needs goes
// through Checkpoint.
type StepContext struct {
	db      *sql.DB
	eventID uuid.UUID
}

func newStepContext(db *sql.DB, eventID uuid.UUID) *StepContext {
	return &StepContext{db: db, eventID: eventID}
}

// NewStepContext builds a StepContext outside the bus's own dispatch
// loop, for callers that invoke a handler directly (scripts, tests). A
// nil db disables memoization: every step runs its function.
func NewStepContext(db *sql.DB, eventID uuid.UUID) *StepContext {
	return newStepContext(db, eventID)
}

// Checkpoint runs fn exactly once per (event, step name) pair. On
// replay, a previously recorded result is returned without calling fn
// again. The result is JSON-marshaled into the result parameter, which
// must be a pointer.
func (sc *StepContext) Checkpoint(ctx context.Context, step string, result any, fn func() (any, error)) error {
	if sc.db == nil {
		value, err := fn()
		if err != nil {
			return err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, result)
	}

	var existing []byte
	err := sc.db.QueryRowContext(ctx,
		`SELECT result FROM event_checkpoints WHERE event_id = $1 AND step = $2`,
		sc.eventID, step).Scan(&existing)
	if err == nil {
		return json.Unmarshal(existing, result)
	}
	if err != sql.ErrNoRows {
		return err
	}

	value, err := fn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if _, err := sc.db.ExecContext(ctx,
		`INSERT INTO event_checkpoints (event_id, step, result, created_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (event_id, step) DO NOTHING`,
		sc.eventID, step, data); err != nil {
		return err
	}

	return json.Unmarshal(data, result)
}

// Done reports whether a step has already recorded a checkpoint,
// letting a handler skip re-deriving inputs it doesn't need if the
// step already ran.
func (sc *StepContext) Done(ctx context.Context, step string) bool {
	if sc.db == nil {
		return false
	}
	var exists bool
	sc.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM event_checkpoints WHERE event_id = $1 AND step = $2)`,
		sc.eventID, step).Scan(&exists)
	return exists
}
