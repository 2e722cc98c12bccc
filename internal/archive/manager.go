package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"tandem/pkg/database"
	"tandem/pkg/interfaces"
	"tandem/pkg/types"
)

// Manager implements the DeliveryArchive interface on SQLite. Writes are
// funneled through a single goroutine; SQLite tolerates concurrent reads
// under WAL but not concurrent writers.
type Manager struct {
	db           *sql.DB
	config       *database.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // protects closed status
}

// writeOperation represents a queued archive write.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the archive database and starts the write loop.
func NewManager(config *database.Config) (*Manager, error) {
	if config == nil {
		config = database.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := database.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := database.InitializeSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine, retrying
// once after a short delay before giving up on an operation.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Archive write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db) // Retry once
				if err != nil {
					log.Printf("Archive write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Archive write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrArchiveClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("archive write operation timeout")
	case <-m.shutdown:
		return interfaces.ErrArchiveClosed
	}
}

// RecordDelivery appends one finalize attempt to the audit trail.
func (m *Manager) RecordDelivery(ctx context.Context, record *types.DeliveryRecord) error {
	return m.executeWrite(func(db *sql.DB) error {
		recipientsJSON, err := json.Marshal(record.Recipients)
		if err != nil {
			return fmt.Errorf("failed to marshal recipients: %w", err)
		}

		query := `
			INSERT INTO deliveries (id, session_id, recipients, status, error, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			record.ID,
			record.SessionID,
			string(recipientsJSON),
			record.Status,
			nullableError(record.Error),
			record.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert delivery record: %w", err)
		}

		return nil
	})
}

// ListDeliveries returns the most recent delivery records, newest first.
// Reads bypass the write queue; WAL allows them to run concurrently.
func (m *Manager) ListDeliveries(ctx context.Context, limit int) ([]*types.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, recipients, status, error, timestamp
		FROM deliveries
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := m.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.DeliveryRecord

	for rows.Next() {
		var record types.DeliveryRecord
		var recipientsJSON string
		var deliveryError sql.NullString

		err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&recipientsJSON,
			&record.Status,
			&deliveryError,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery row: %w", err)
		}

		if err := json.Unmarshal([]byte(recipientsJSON), &record.Recipients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
		}

		if deliveryError.Valid {
			record.Error = deliveryError.String
		}

		records = append(records, &record)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery rows: %w", err)
	}

	return records, nil
}

// HealthCheck validates archive connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("archive ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deliveries").Scan(&count); err != nil {
		return fmt.Errorf("archive read test failed: %w", err)
	}

	return nil
}

// Close shuts down the archive manager.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil // Already closed
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close archive database: %w", err)
	}

	return nil
}

func nullableError(message string) interface{} {
	if message == "" {
		return nil
	}
	return message
}
