// Package audit appends immutable before/after records for every state
// mutation. Entries are written inside the caller's transaction so an audit
// failure fails the mutation with it.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Actor kinds.
const (
	ActorHuman  = "human"
	ActorAgent  = "agent"
	ActorSystem = "system"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Record describes one mutation. PrevState may be nil for creations.
type Record struct {
	ActorID    string
	ActorKind  string
	Action     string
	EntityKind string
	EntityID   string
	CycleID    string
	PrevState  any
	NewState   any
	Rationale  string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if rec.ActorKind == "" {
		rec.ActorKind = ActorSystem
	}
	var prev any
	if rec.PrevState != nil {
		data, err := json.Marshal(rec.PrevState)
		if err != nil {
			return fmt.Errorf("marshal prev state: %w", err)
		}
		prev = string(data)
	}
	newState := rec.NewState
	if newState == nil {
		newState = map[string]any{}
	}
	data, err := json.Marshal(newState)
	if err != nil {
		return fmt.Errorf("marshal new state: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_entries(ts,actor_id,actor_kind,action,entity_kind,entity_id,cycle_id,prev_state,new_state,rationale) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ts, rec.ActorID, rec.ActorKind, rec.Action, rec.EntityKind, nullable(rec.EntityID), nullable(rec.CycleID), prev, string(data), nullable(rec.Rationale))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
