package main

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite analytics database. It holds match history and raw
// events only; player profiles are not persisted here.
type DB struct {
	conn *sql.DB
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			lobby_id TEXT NOT NULL DEFAULT '',
			player_id INTEGER NOT NULL DEFAULT 0,
			payload BLOB,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
		CREATE INDEX IF NOT EXISTS idx_events_lobby ON events(lobby_id);

		CREATE TABLE IF NOT EXISTS matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			lobby_id TEXT NOT NULL,
			duration REAL NOT NULL,
			players INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
	`)
	return err
}

// InsertEvents writes a batch of events in one transaction.
func (db *DB) InsertEvents(batch []AnalyticsEvent) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		"INSERT INTO events (type, lobby_id, player_id, payload, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, evt := range batch {
		if _, err := stmt.Exec(evt.Type, evt.LobbyID, int64(evt.PlayerID), evt.Payload, evt.Timestamp); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// InsertMatch records a completed match summary.
func (db *DB) InsertMatch(lobbyID string, duration float64, players int, at time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO matches (lobby_id, duration, players, created_at) VALUES (?, ?, ?, ?)",
		lobbyID, duration, players, at)
	return err
}

// CountEvents returns the number of stored events of one type.
func (db *DB) CountEvents(evtType string) (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM events WHERE type = ?", evtType).Scan(&n)
	return n, err
}
