// Package sinks holds the reference implementations of the two optional
// learning sinks an orchestrator/feedback processor can be wired to: a
// SQLite-backed historical memory store and a heuristic delta learner.
// Both are concrete stand-ins for whatever real learning system a
// deployment eventually plugs in; neither is required by the core loop.
package sinks

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vthunder/pulseloop/internal/external"
	"github.com/vthunder/pulseloop/internal/logging"
)

const (
	// decayHalfLife is how long an action kind's activation takes to
	// halve absent reinforcement, the SQL-backed analog of
	// TracePool.DecayActivation's per-tick multiplier.
	decayHalfLife  = 24 * time.Hour
	reinforceBoost = 0.2
	maxActivation  = 1.0
	recentLimit    = 5
)

// SQLiteStore persists experiences and per-context activation the way
// internal/memory/traces.go kept reinforcement/decay in a JSON trace pool,
// except queryable through a real table instead of a full-file rewrite on
// every save.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and runs its migration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS experiences (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	context_key TEXT NOT NULL,
	outcome TEXT NOT NULL,
	score REAL NOT NULL,
	context TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS context_memory (
	context_key TEXT PRIMARY KEY,
	activation REAL NOT NULL,
	reinforce_count INTEGER NOT NULL,
	average_score REAL NOT NULL,
	last_seen DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_experiences_context_key ON experiences(context_key);
`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Interface wires this store's methods into the capability-probed
// external.HistoricalMemoryStore shape.
func (s *SQLiteStore) Interface() *external.HistoricalMemoryStore {
	return &external.HistoricalMemoryStore{
		GetRelevantContext: s.GetRelevantContext,
		UpdateFromFeedback: s.UpdateFromFeedback,
		StoreExperience:    s.StoreExperience,
	}
}

// StoreExperience appends a raw experience row. Grounded on traces.go's
// Add, minus the in-memory map (the table is the pool now).
func (s *SQLiteStore) StoreExperience(ctx context.Context, update external.FeedbackUpdate) error {
	contextJSON, err := json.Marshal(update.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiences (context_key, outcome, score, context, created_at) VALUES (?, ?, ?, ?, ?)`,
		contextKey(update.Context), update.Outcome, update.Score, string(contextJSON), time.Unix(update.Timestamp, 0))
	if err != nil {
		return err
	}
	logging.Debug("sinks", "stored experience for %s (score %.2f)", update.ActionType, update.Score)
	return nil
}

// UpdateFromFeedback reinforces the context's activation the way
// TracePool.Reinforce bumps a trace: boost on arrival, decayed by
// elapsed time since it was last seen.
func (s *SQLiteStore) UpdateFromFeedback(ctx context.Context, update external.FeedbackUpdate) error {
	key := contextKey(update.Context)

	var activation, avgScore float64
	var count int
	var lastSeen time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT activation, reinforce_count, average_score, last_seen FROM context_memory WHERE context_key = ?`, key,
	).Scan(&activation, &count, &avgScore, &lastSeen)

	now := time.Now()
	switch {
	case err == sql.ErrNoRows:
		activation = reinforceBoost
		avgScore = update.Score
		count = 1
	case err != nil:
		return err
	default:
		activation = math.Min(maxActivation, decay(activation, now.Sub(lastSeen))+reinforceBoost)
		avgScore = (avgScore*float64(count) + update.Score) / float64(count+1)
		count++
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO context_memory (context_key, activation, reinforce_count, average_score, last_seen)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(context_key) DO UPDATE SET
	activation=excluded.activation,
	reinforce_count=excluded.reinforce_count,
	average_score=excluded.average_score,
	last_seen=excluded.last_seen`,
		key, activation, count, avgScore, now)
	return err
}

// GetRelevantContext reports the decayed activation and recent
// experiences for whatever context the payload describes. Grounded on
// TracePool.GetActivated / FindSimilar, substituting a context-key
// lookup for the original's embedding cosine similarity (perception
// payloads here carry no embedding).
func (s *SQLiteStore) GetRelevantContext(ctx context.Context, payload map[string]any) (map[string]any, error) {
	key := contextKey(payload)

	var activation, avgScore float64
	var count int
	var lastSeen time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT activation, reinforce_count, average_score, last_seen FROM context_memory WHERE context_key = ?`, key,
	).Scan(&activation, &count, &avgScore, &lastSeen)
	if err == sql.ErrNoRows {
		return map[string]any{"context_key": key}, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, score, created_at FROM experiences WHERE context_key = ? ORDER BY created_at DESC LIMIT ?`,
		key, recentLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recent []map[string]any
	for rows.Next() {
		var outcome string
		var score float64
		var createdAt time.Time
		if err := rows.Scan(&outcome, &score, &createdAt); err != nil {
			return nil, err
		}
		recent = append(recent, map[string]any{
			"outcome":   outcome,
			"score":     score,
			"timestamp": createdAt,
		})
	}

	return map[string]any{
		"context_key":        key,
		"activation":         decay(activation, time.Since(lastSeen)),
		"reinforce_count":    count,
		"average_score":      avgScore,
		"recent_experiences": recent,
	}, nil
}

func decay(activation float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return activation
	}
	halfLives := float64(elapsed) / float64(decayHalfLife)
	return activation * math.Pow(0.5, halfLives)
}

// contextKey derives a coarse bucket from a perception payload's shape
// since payloads carry no explicit kind field by the time they reach a
// sink — monitors are distinguished by which keys they set.
func contextKey(data map[string]any) string {
	switch {
	case data == nil:
		return "unknown"
	case has(data, "event_type") && has(data, "path"):
		return "filesystem:" + asString(data["event_type"])
	case has(data, "event_type") && has(data, "description"):
		return "scheduled:" + asString(data["event_type"])
	case has(data, "activity_state"):
		return "user-activity:" + asString(data["activity_state"])
	case has(data, "cpu_percent"):
		return "system-state"
	case has(data, "velocity"):
		return "cursor"
	default:
		return "unknown"
	}
}

func has(data map[string]any, key string) bool {
	_, ok := data[key]
	return ok
}

func asString(v any) string {
	s, _ := v.(string)
	if s == "" {
		return "generic"
	}
	return s
}
