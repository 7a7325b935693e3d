package database

import (
	"database/sql"
	"fmt"
)

const createSessionTable = `CREATE TABLE IF NOT EXISTS client_session (
	id INTEGER PRIMARY KEY,
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	user_id INTEGER NOT NULL,
	username TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
)`

// DBConn persists the client's session. Driver is "sqlite3" or "postgres";
// the caller imports the driver package.
type DBConn struct {
	conn *sql.DB
	key  *[keySize]byte
}

func NewDatabaseConnection(driver, dsn string, key []byte) (*DBConn, error) {
	k, err := sealKey(key)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if _, err := db.Exec(createSessionTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create session table: %w", err)
	}

	return &DBConn{conn: db, key: k}, nil
}

func (db *DBConn) Ping() error {
	return db.conn.Ping()
}

func (db *DBConn) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
