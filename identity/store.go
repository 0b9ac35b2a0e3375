// Package identity implements the user/key store the server core
// depends on: register, authenticate, set_pubkey, get_pubkey, over a
// single-file sqlite database (mattn/go-sqlite3).
package identity

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors distinguishing the outcomes callers care about.
var (
	ErrAlreadyExists  = errors.New("passphrase already registered")
	ErrBadCredentials = errors.New("invalid passphrase or password")
)

// Store is the identity/key collaborator the server core depends on
// only through this interface.
type Store interface {
	Init() error
	Register(passphrase, password string) (userID int64, err error)
	Authenticate(passphrase, password string) (userID int64, err error)
	SetPubkey(userID int64, pubkey string) (found bool, err error)
	GetPubkey(userID int64) (pubkey string, found bool, err error)
}

// SQLiteStore is the Store implementation backing the server. Every
// call runs one or two short statements (Register checks the
// passphrase before inserting) and holds no other lock across the call.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-open *sql.DB. Callers own the
// connection's lifecycle (open via db.Open, close via db.Close).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Init runs the additive schema migration needed on startup: add a
// users table if absent, and backfill a pubkey column onto an older
// installation's users table in place (never destructive).
func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		passphrase TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		pubkey TEXT
	)`); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	hasPubkey, err := s.hasColumn("users", "pubkey")
	if err != nil {
		return fmt.Errorf("inspect users schema: %w", err)
	}
	if !hasPubkey {
		if _, err := s.db.Exec(`ALTER TABLE users ADD COLUMN pubkey TEXT`); err != nil {
			return fmt.Errorf("migrate users.pubkey: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Register inserts a new user with a freshly salted Argon2id password
// hash, enforcing the unique-passphrase precondition.
func (s *SQLiteStore) Register(passphrase, password string) (int64, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	var exists bool
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE passphrase = ?)`, passphrase).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check passphrase: %w", err)
	}
	if exists {
		return 0, ErrAlreadyExists
	}

	res, err := s.db.Exec(`INSERT INTO users (passphrase, password_hash) VALUES (?, ?)`, passphrase, hash)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

// Authenticate looks up passphrase and verifies password against the
// stored hash. A missing row and a wrong password are both reported as
// ErrBadCredentials.
func (s *SQLiteStore) Authenticate(passphrase, password string) (int64, error) {
	var (
		userID int64
		hash   string
	)
	err := s.db.QueryRow(`SELECT id, password_hash FROM users WHERE passphrase = ?`, passphrase).Scan(&userID, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrBadCredentials
	}
	if err != nil {
		return 0, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := verifyPassword(password, hash)
	if err != nil {
		return 0, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return 0, ErrBadCredentials
	}
	return userID, nil
}

// SetPubkey updates the pubkey column for userID. found is false when
// no row matches.
func (s *SQLiteStore) SetPubkey(userID int64, pubkey string) (bool, error) {
	res, err := s.db.Exec(`UPDATE users SET pubkey = ? WHERE id = ?`, pubkey, userID)
	if err != nil {
		return false, fmt.Errorf("update pubkey: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// GetPubkey returns the stored pubkey for userID. found is false both
// when the user is missing and when the column is null.
func (s *SQLiteStore) GetPubkey(userID int64) (string, bool, error) {
	var pubkey sql.NullString
	err := s.db.QueryRow(`SELECT pubkey FROM users WHERE id = ?`, userID).Scan(&pubkey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup pubkey: %w", err)
	}
	if !pubkey.Valid || pubkey.String == "" {
		return "", false, nil
	}
	return pubkey.String, true, nil
}
