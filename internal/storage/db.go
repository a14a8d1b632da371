package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// TokenKey is the fixed key the bearer token is stored under for a visitor.
const TokenKey = "jwt_token"

// ErrVisitorNotFound is returned when a visitor id is unknown or expired.
var ErrVisitorNotFound = errors.New("visitor not found")

// DB wraps a sql.DB connection holding visitor records and their sealed
// bearer tokens.
type DB struct {
	conn *sql.DB
	aead cipher.AEAD
}

// NewDB opens a database connection and runs migrations. Tokens are sealed
// with a key derived from secret.
func NewDB(path, secret string) (*DB, error) {
	if secret == "" {
		return nil, errors.New("storage: secret must not be empty")
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across queries.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	aead, err := deriveAEAD(secret)
	if err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn, aead: aead}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func deriveAEAD(secret string) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("litrank-web token seal"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS visitors (
			id TEXT PRIMARY KEY,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_activity DATETIME DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS visitor_values (
			visitor_id TEXT NOT NULL,
			key TEXT NOT NULL,
			sealed BLOB NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (visitor_id, key),
			FOREIGN KEY (visitor_id) REFERENCES visitors(id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// CreateVisitor records a new browser visitor.
func (db *DB) CreateVisitor(id string, expiresAt time.Time) error {
	now := time.Now().UTC()
	_, err := db.conn.Exec(
		"INSERT INTO visitors (id, created_at, last_activity, expires_at) VALUES (?, ?, ?, ?)",
		id, now, now, expiresAt.UTC(),
	)
	return err
}

// VisitorInfo holds visitor validation data.
type VisitorInfo struct {
	ID           string
	LastActivity time.Time
	ExpiresAt    time.Time
}

// ValidateVisitor checks that a visitor exists and has not expired.
func (db *DB) ValidateVisitor(id string) (*VisitorInfo, error) {
	row := db.conn.QueryRow(
		"SELECT id, last_activity, expires_at FROM visitors WHERE id = ? AND expires_at > ?",
		id, time.Now().UTC(),
	)

	var info VisitorInfo
	if err := row.Scan(&info.ID, &info.LastActivity, &info.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVisitorNotFound
		}
		return nil, err
	}
	return &info, nil
}

// RenewVisitor updates last_activity and expires_at for a visitor.
func (db *DB) RenewVisitor(id string, newExpiresAt time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE visitors SET last_activity = ?, expires_at = ? WHERE id = ?",
		time.Now().UTC(), newExpiresAt.UTC(), id,
	)
	return err
}

// DeleteVisitor removes a visitor and everything stored for it.
func (db *DB) DeleteVisitor(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM visitor_values WHERE visitor_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM visitors WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// CleanExpiredVisitors removes all expired visitors and their values.
func (db *DB) CleanExpiredVisitors() (int64, error) {
	now := time.Now().UTC()
	if _, err := db.conn.Exec(
		"DELETE FROM visitor_values WHERE visitor_id IN (SELECT id FROM visitors WHERE expires_at <= ?)", now,
	); err != nil {
		return 0, err
	}
	res, err := db.conn.Exec("DELETE FROM visitors WHERE expires_at <= ?", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// VisitorCount returns the number of visitors in the database.
func (db *DB) VisitorCount() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM visitors").Scan(&count)
	return count, err
}

// SetValue seals and stores value under key for a visitor. The last write wins.
func (db *DB) SetValue(visitorID, key, value string) error {
	nonce := make([]byte, db.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := db.aead.Seal(nonce, nonce, []byte(value), additionalData(visitorID, key))

	_, err := db.conn.Exec(`
		INSERT INTO visitor_values (visitor_id, key, sealed, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (visitor_id, key) DO UPDATE SET sealed = excluded.sealed, updated_at = excluded.updated_at
	`, visitorID, key, sealed, time.Now().UTC())
	return err
}

// Value returns the value stored under key for a visitor, or "" when unset.
func (db *DB) Value(visitorID, key string) (string, error) {
	var sealed []byte
	err := db.conn.QueryRow(
		"SELECT sealed FROM visitor_values WHERE visitor_id = ? AND key = ?",
		visitorID, key,
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	ns := db.aead.NonceSize()
	if len(sealed) < ns {
		return "", errors.New("storage: sealed value too short")
	}
	plain, err := db.aead.Open(nil, sealed[:ns], sealed[ns:], additionalData(visitorID, key))
	if err != nil {
		return "", fmt.Errorf("storage: open sealed value: %w", err)
	}
	return string(plain), nil
}

// DeleteValue removes the value stored under key for a visitor.
func (db *DB) DeleteValue(visitorID, key string) error {
	_, err := db.conn.Exec("DELETE FROM visitor_values WHERE visitor_id = ? AND key = ?", visitorID, key)
	return err
}

func additionalData(visitorID, key string) []byte {
	return []byte(visitorID + "\x00" + key)
}
