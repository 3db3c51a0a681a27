package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"fxRecoveryBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Sink implements ports.EventSink using SQLite. It is append-only from the
// core's perspective; the ML analysis side reads the tables offline.
type Sink struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite sink.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewSink creates the sink, opening (and initializing) the database.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite sink")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/recovery_events.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite sink initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite sink initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite sink initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver behaves best with
	// a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	sink := &Sink{db: db, logger: cfg.Logger}
	if err := sink.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize sink schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite sink initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "Telemetry sink ready", map[string]interface{}{"path": dbPath})
	return sink, nil
}

func (s *Sink) initializeSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		ticket INTEGER NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type_time ON events(event_type, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_ticket ON events(ticket);

	CREATE TABLE IF NOT EXISTS stack_history (
		id TEXT PRIMARY KEY,
		ticket INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		reason TEXT NOT NULL,
		final_profit REAL NOT NULL,
		ticket_count INTEGER NOT NULL,
		closed_count INTEGER NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NOT NULL,
		duration_minutes REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stack_history_symbol ON stack_history(symbol, closed_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema creation: %w", err)
	}
	return nil
}

// Record appends one telemetry event. The decision payload is stored as
// JSON so the analysis side can evolve without schema churn.
func (s *Sink) Record(ctx context.Context, ev ports.Event) error {
	payload := []byte("{}")
	if ev.Fields != nil {
		var err error
		payload, err = json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
	}
	when := ev.Time
	if when.IsZero() {
		when = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, created_at, event_type, symbol, ticket, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), when, ev.Type, ev.Symbol, ev.Ticket, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert event: %v: %w", err, ports.ErrSinkUnavailable)
	}
	return nil
}

// RecordStackClose appends one closed-stack history row.
func (s *Sink) RecordStackClose(ctx context.Context, sc ports.StackClose) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stack_history (id, ticket, symbol, reason, final_profit, ticket_count, closed_count, opened_at, closed_at, duration_minutes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sc.Ticket, sc.Symbol, sc.Reason, sc.FinalProfit,
		sc.TicketCount, sc.ClosedCount, sc.OpenedAt, sc.ClosedAt,
		sc.ClosedAt.Sub(sc.OpenedAt).Minutes(),
	)
	if err != nil {
		return fmt.Errorf("insert stack history: %v: %w", err, ports.ErrSinkUnavailable)
	}
	return nil
}

// Close closes the underlying database.
func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
