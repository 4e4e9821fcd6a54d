package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/distributor"
	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// Query limits for Recent.
const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 1000
)

// ErrNotStarted is returned by Record before Start or after Stop.
var ErrNotStarted = errors.New("journal: not started")

// Logger is the logging interface used by the journal.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Entry is one journalled event.
type Entry struct {
	ID          int64     `json:"id"`
	ReceivedAt  time.Time `json:"received_at"`
	Kind        string    `json:"kind"`
	Topic       string    `json:"topic,omitempty"`
	QoS         int       `json:"qos"`
	Retained    bool      `json:"retained"`
	PacketID    uint16    `json:"packet_id,omitempty"`
	PayloadSize int       `json:"payload_size"`
	Payload     []byte    `json:"payload,omitempty"`
}

// Journal writes events to the mqtt_events table.
//
// Thread Safety: All methods are safe for concurrent use.
type Journal struct {
	db         *sql.DB
	maxPayload int
	logger     Logger

	insertStmt *sql.Stmt
	stmtMu     sync.Mutex
}

// New creates a journal over db. maxPayload caps the payload bytes stored
// per event; the full size is always recorded. Zero stores no payload.
func New(db *sql.DB, maxPayload int) *Journal {
	if maxPayload < 0 {
		maxPayload = 0
	}
	return &Journal{db: db, maxPayload: maxPayload}
}

// SetLogger sets the logger for the journal.
func (j *Journal) SetLogger(logger Logger) {
	j.logger = logger
}

// Start prepares the insert statement. Calling Start twice is a no-op.
func (j *Journal) Start() error {
	j.stmtMu.Lock()
	defer j.stmtMu.Unlock()

	if j.insertStmt != nil {
		return nil
	}

	stmt, err := j.db.Prepare(`
		INSERT INTO mqtt_events
			(received_at, kind, topic, qos, retained, packet_id, payload_size, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing journal insert: %w", err)
	}
	j.insertStmt = stmt
	j.log("event journal started", "max_payload", j.maxPayload)
	return nil
}

// Stop releases the prepared statement. Safe to call more than once.
func (j *Journal) Stop() {
	j.stmtMu.Lock()
	defer j.stmtMu.Unlock()

	if j.insertStmt == nil {
		return
	}
	j.insertStmt.Close() //nolint:errcheck // shutdown path
	j.insertStmt = nil
	j.log("event journal stopped")
}

// Record writes a single event.
func (j *Journal) Record(ctx context.Context, ev transport.Event) error {
	j.stmtMu.Lock()
	stmt := j.insertStmt
	j.stmtMu.Unlock()
	if stmt == nil {
		return ErrNotStarted
	}

	received := ev.Received
	if received.IsZero() {
		received = time.Now()
	}

	var payload []byte
	if n := min(len(ev.Payload), j.maxPayload); n > 0 {
		payload = ev.Payload[:n]
	}

	retained := 0
	if ev.Retained {
		retained = 1
	}

	if _, err := stmt.ExecContext(ctx,
		received.UnixMilli(),
		ev.Kind.String(),
		ev.Topic,
		int(ev.QoS),
		retained,
		int(ev.PacketID),
		len(ev.Payload),
		payload,
	); err != nil {
		return fmt.Errorf("recording %s event: %w", ev.Kind, err)
	}
	return nil
}

// Run records every event received on h until ctx ends or h is closed.
// Write failures are logged and do not stop the loop.
//
// Returns:
//   - nil once h is closed and drained
//   - ctx.Err() after cancellation
func (j *Journal) Run(ctx context.Context, h *distributor.Handle) error {
	for {
		ev, err := h.Recv(ctx)
		if err != nil {
			if errors.Is(err, distributor.ErrHandleClosed) {
				return nil
			}
			return err
		}
		if err := j.Record(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			j.logError("journal write failed", err, "topic", ev.Topic)
		}
	}
}

// Recent returns up to limit entries, newest first. A limit outside
// 1..MaxRecentLimit is clamped.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, received_at, kind, topic, qos, retained, packet_id, payload_size, payload
		FROM mqtt_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			receivedMs int64
			retained   int
			packetID   int
		)
		if err := rows.Scan(&e.ID, &receivedMs, &e.Kind, &e.Topic, &e.QoS,
			&retained, &packetID, &e.PayloadSize, &e.Payload); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.ReceivedAt = time.UnixMilli(receivedMs)
		e.Retained = retained != 0
		e.PacketID = uint16(packetID) //nolint:gosec // column only holds packet ids
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return entries, nil
}

// Prune deletes entries received before olderThan and reports how many
// were removed.
func (j *Journal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM mqtt_events WHERE received_at < ?`,
		olderThan.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	return n, nil
}

// Count returns the number of journalled events.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mqtt_events`).Scan(&n)
	return n, err
}

// RunPruner removes entries older than retention every interval until ctx
// ends. A non-positive retention or interval disables pruning.
func (j *Journal) RunPruner(ctx context.Context, retention, interval time.Duration) error {
	if retention <= 0 || interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			n, err := j.Prune(ctx, now.Add(-retention))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				j.logError("journal prune failed", err)
				continue
			}
			if n > 0 {
				j.log("journal pruned", "removed", n, "retention", retention)
			}
		}
	}
}

func (j *Journal) log(msg string, args ...any) {
	if j.logger != nil {
		j.logger.Info(msg, args...)
	}
}

func (j *Journal) logError(msg string, err error, args ...any) {
	if j.logger != nil {
		j.logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}
