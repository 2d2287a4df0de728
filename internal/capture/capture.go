// Package capture records the bytes that pass through a UART handle into a
// SQLite database, grouped into sessions.
package capture

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Direction of a transfer relative to the host.
type Direction string

const (
	TX Direction = "tx"
	RX Direction = "rx"
)

// Transfer is one recorded read or write.
type Transfer struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Direction Direction `json:"direction"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the capture database at path and applies
// pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// MigrateUp runs all pending migrations. It is a no-op when the schema is
// already current.
func (db *DB) MigrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: that would close the underlying DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// StartSession registers a new capture session for devPath and returns its
// ID.
func (db *DB) StartSession(devPath string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, dev_path, started_at) VALUES (?, ?, ?)`,
		id, devPath, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start capture session: %w", err)
	}
	return id, nil
}

// Record stores one transfer. Empty payloads are ignored.
func (db *DB) Record(sessionID string, dir Direction, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := db.Exec(
		`INSERT INTO transfers (session_id, direction, data, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(dir), data, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s transfer: %w", dir, err)
	}
	return nil
}

// SessionTransfers returns every transfer of a session in the order recorded.
func (db *DB) SessionTransfers(sessionID string) ([]Transfer, error) {
	rows, err := db.Query(
		`SELECT transfer_id, session_id, direction, data, created_at
		 FROM transfers WHERE session_id = ? ORDER BY transfer_id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	return scanTransfers(rows)
}

// Recent returns the last limit transfers across all sessions, oldest first.
func (db *DB) Recent(limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT transfer_id, session_id, direction, data, created_at FROM (
			SELECT * FROM transfers ORDER BY transfer_id DESC LIMIT ?
		 ) ORDER BY transfer_id ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	return scanTransfers(rows)
}

func scanTransfers(rows *sql.Rows) ([]Transfer, error) {
	defer rows.Close()

	var transfers []Transfer
	for rows.Next() {
		var t Transfer
		var dir string
		var created int64
		if err := rows.Scan(&t.ID, &t.SessionID, &dir, &t.Data, &created); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		t.Direction = Direction(dir)
		t.CreatedAt = time.Unix(0, created)
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transfers, nil
}

// AttachAdminRoutes mounts a tailsql console for the capture database under
// /debug/tailsql/ and a JSON listing of recent transfers at /debug/capture.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("capture", "Recently captured transfers (?limit=N)", func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		transfers, err := db.Recent(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if transfers == nil {
			transfers = []Transfer{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(transfers); err != nil {
			log.Printf("failed to encode transfers: %v", err)
		}
	})

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "UART capture",
	})
	debug.Handle("tailsql/", "SQL console for captured transfers", tsql.NewMux())
	return nil
}
