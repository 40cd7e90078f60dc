package server

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Connection log event types
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventTimeout      = "timeout"
	EventKicked       = "kicked"
	EventShutdown     = "shutdown"
)

const connLogBacklog = 256

// ConnectionLog is one row of the connection_logs table
type ConnectionLog struct {
	ID          int64     `json:"id"`
	ClientID    string    `json:"client_id"`
	Address     string    `json:"address"`
	DisplayName string    `json:"display_name"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Details     string    `json:"details"`
}

// ConnLog persists session lifecycle events to SQLite. Record never blocks:
// events go through a bounded channel to a single writer goroutine and are
// dropped when the backlog is full.
type ConnLog struct {
	db     *sql.DB
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	closed  bool
	events  chan ConnectionLog
	done    chan struct{}
	dropped atomic.Uint64
}

// OpenConnLog opens (or creates) the database at path. An empty path keeps
// the log in memory.
func OpenConnLog(path string, logger *zap.Logger) (*ConnLog, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection log %s: %w", path, err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS connection_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id TEXT,
		address TEXT,
		display_name TEXT,
		event_type TEXT,
		details TEXT,
		created_at DATETIME
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create connection_logs table: %w", err)
	}

	l := &ConnLog{
		db:     db,
		logger: logger.Sugar().Named("connlog"),
		events: make(chan ConnectionLog, connLogBacklog),
		done:   make(chan struct{}),
	}
	go l.writer()
	return l, nil
}

// Record queues an event for writing.
func (l *ConnLog) Record(client ClientInfo, eventType, details string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	ev := ConnectionLog{
		ClientID:    client.ID,
		Address:     client.Address,
		DisplayName: client.DisplayName,
		EventType:   eventType,
		Timestamp:   time.Now().UTC(),
		Details:     details,
	}
	select {
	case l.events <- ev:
	default:
		if l.dropped.Add(1) == 1 {
			l.logger.Warnw("Connection log backlog full, dropping events", "event", eventType)
		}
	}
}

func (l *ConnLog) writer() {
	defer close(l.done)
	for ev := range l.events {
		_, err := l.db.Exec(
			"INSERT INTO connection_logs(client_id, address, display_name, event_type, details, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			ev.ClientID, ev.Address, ev.DisplayName, ev.EventType, ev.Details, ev.Timestamp,
		)
		if err != nil {
			l.logger.Errorw("Failed to write connection log", "event", ev.EventType, "client_id", ev.ClientID, "error", err)
		}
	}
}

// Recent returns up to limit events, newest first.
func (l *ConnLog) Recent(ctx context.Context, limit int) ([]ConnectionLog, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT id, client_id, address, display_name, event_type, details, created_at FROM connection_logs ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection logs: %w", err)
	}
	defer rows.Close()

	logs := make([]ConnectionLog, 0, limit)
	for rows.Next() {
		var ev ConnectionLog
		if err := rows.Scan(&ev.ID, &ev.ClientID, &ev.Address, &ev.DisplayName, &ev.EventType, &ev.Details, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan connection log: %w", err)
		}
		logs = append(logs, ev)
	}
	return logs, rows.Err()
}

// Dropped returns how many events were discarded because the backlog was full.
func (l *ConnLog) Dropped() uint64 { return l.dropped.Load() }

// Close flushes queued events and closes the database.
func (l *ConnLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()

	<-l.done
	return l.db.Close()
}
