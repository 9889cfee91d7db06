package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/knx-tpuart-gateway/internal/infrastructure/database"
	"github.com/nerrad567/knx-tpuart-gateway/internal/tpuart"
)

const (
	busyTimeoutSeconds = 5
	connectionTimeout  = 5 * time.Second
)

// Kind identifies the category of link event recorded.
type Kind string

// Event kinds, derived from the tpuart.Event/AckStatus values the link
// layer raises.
const (
	KindReset           Kind = "RESET"
	KindReceptionError  Kind = "RECEPTION_ERROR"
	KindStateIndication Kind = "STATE_INDICATION"
	KindNack            Kind = "NACK"
	KindAckTimeout      Kind = "NO_ANSWER_TIMEOUT"
)

const schema = `
CREATE TABLE IF NOT EXISTS link_events (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_link_events_occurred_at ON link_events (occurred_at);
`

// DB is a SQLite-backed event log.
type DB struct {
	inner *database.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the link_events table exists. Connection setup (directory
// creation, WAL mode, busy timeout, file permissions) is delegated to
// infrastructure/database; this package only owns the single-table
// schema on top of it.
func Open(path string) (*DB, error) {
	inner, err := database.Open(database.Config{
		Path:        path,
		WALMode:     true,
		BusyTimeout: busyTimeoutSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if _, err := inner.ExecContext(ctx, schema); err != nil {
		inner.Close()
		return nil, fmt.Errorf("eventlog: creating schema: %w", err)
	}

	return &DB{inner: inner}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	if db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// Record inserts one event, stamped with the current time and a
// generated id.
func (db *DB) Record(kind Kind, detail string) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	_, err := db.inner.ExecContext(ctx,
		`INSERT INTO link_events (id, kind, detail, occurred_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), string(kind), detail, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("eventlog: recording event: %w", err)
	}
	return nil
}

// Event is a single row read back from the log.
type Event struct {
	ID         string
	Kind       Kind
	Detail     string
	OccurredAt time.Time
}

// Recent returns up to limit most recent events, newest first.
func (db *DB) Recent(limit int) ([]Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	rows, err := db.inner.QueryContext(ctx,
		`SELECT id, kind, detail, occurred_at FROM link_events ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var kind, occurredAt string
		if err := rows.Scan(&e.ID, &kind, &e.Detail, &occurredAt); err != nil {
			return nil, fmt.Errorf("eventlog: scanning event: %w", err)
		}
		e.Kind = Kind(kind)
		e.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// KindFromLinkEvent maps a tpuart.Event to the corresponding Kind, or
// empty if the event does not warrant a log entry
// (EventReceivedTelegram).
func KindFromLinkEvent(e tpuart.Event) Kind {
	switch e {
	case tpuart.EventReset:
		return KindReset
	case tpuart.EventReceptionError:
		return KindReceptionError
	case tpuart.EventStateIndication:
		return KindStateIndication
	default:
		return ""
	}
}

// KindFromAck maps a tpuart.AckStatus to the corresponding Kind, or
// empty if the status does not warrant a log entry (AckOK).
func KindFromAck(a tpuart.AckStatus) Kind {
	switch a {
	case tpuart.AckNack, tpuart.AckResetDuringSend:
		return KindNack
	case tpuart.AckTimeout:
		return KindAckTimeout
	default:
		return ""
	}
}
