package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/gochat-sync/internal/types"
)

const upsertSessionQuery = "INSERT INTO client_session " +
	"(id, access_token, refresh_token, user_id, username, email, updated_at) " +
	"VALUES ($1, $2, $3, $4, $5, $6, $7) " +
	"ON CONFLICT (id) DO UPDATE SET access_token = excluded.access_token, " +
	"refresh_token = excluded.refresh_token, user_id = excluded.user_id, " +
	"username = excluded.username, email = excluded.email, updated_at = excluded.updated_at"

func (db *DBConn) SaveSession(s types.StoredSession) error {
	access, err := seal(db.key, s.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := seal(db.key, s.RefreshToken)
	if err != nil {
		return err
	}

	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = db.conn.Exec(
		upsertSessionQuery,
		sessionRowId,
		access,
		refresh,
		s.User.Id,
		s.User.Username,
		s.User.Email,
		updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

func (db *DBConn) LoadSession() (types.StoredSession, error) {
	row := db.conn.QueryRow(
		"SELECT id, access_token, refresh_token, user_id, username, email, updated_at "+
			"FROM client_session WHERE id = $1",
		sessionRowId,
	)

	var r sessionRow
	err := row.Scan(
		&r.Id,
		&r.AccessToken,
		&r.RefreshToken,
		&r.UserId,
		&r.Username,
		&r.Email,
		&r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.StoredSession{}, ErrNoSession
	}
	if err != nil {
		return types.StoredSession{}, fmt.Errorf("load session: %w", err)
	}

	access, err := open(db.key, r.AccessToken)
	if err != nil {
		return types.StoredSession{}, err
	}
	refresh, err := open(db.key, r.RefreshToken)
	if err != nil {
		return types.StoredSession{}, err
	}

	return types.StoredSession{
		Credentials: types.Credentials{AccessToken: access, RefreshToken: refresh},
		User:        types.User{Id: r.UserId, Username: r.Username, Email: r.Email},
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func (db *DBConn) ClearSession() error {
	if _, err := db.conn.Exec("DELETE FROM client_session WHERE id = $1", sessionRowId); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
