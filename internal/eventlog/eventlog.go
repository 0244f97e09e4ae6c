package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lynkbyte/go-evolution-client/pkg/evolution"
)

// Store persists received webhook events to Postgres. It is an optional
// sink: the service registers its Handler as a wildcard on the processor
// when a DSN is configured.
type Store struct {
	db *sql.DB
}

// Entry is one persisted webhook event.
type Entry struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	Instance   string         `json:"instance"`
	Data       map[string]any `json:"data"`
	ReceivedAt time.Time      `json:"received_at"`
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the event table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_events (
			id UUID PRIMARY KEY,
			event TEXT NOT NULL,
			instance TEXT NOT NULL DEFAULT '',
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			received_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS webhook_events_instance_received_idx
		ON webhook_events (instance, received_at DESC)
	`)
	return err
}

// LogEvent writes one envelope through to the table.
func (s *Store) LogEvent(ctx context.Context, w *evolution.Webhook) error {
	dataJSON, err := json.Marshal(w.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, event, instance, data, received_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, uuid.NewString(), w.RawEvent, w.Instance, string(dataJSON), time.Unix(w.ReceivedAt, 0).UTC())
	return err
}

// RecentEvents returns the newest events for an instance; empty instance
// means all instances.
func (s *Store) RecentEvents(ctx context.Context, instance string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event, instance, data, received_at
		FROM webhook_events
		WHERE ($1 = '' OR instance = $1)
		ORDER BY received_at DESC
		LIMIT $2
	`, instance, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var dataJSON []byte
		if err := rows.Scan(&entry.ID, &entry.Event, &entry.Instance, &dataJSON, &entry.ReceivedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(dataJSON, &entry.Data); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Handler adapts the store into a webhook handler suitable for wildcard
// registration.
func (s *Store) Handler() evolution.Handler {
	return evolution.HandlerFunc(func(ctx context.Context, w *evolution.Webhook) error {
		return s.LogEvent(ctx, w)
	})
}
