package database

import "time"

// sessionRow mirrors the client_session table. Tokens are sealed.
type sessionRow struct {
	Id           int
	AccessToken  string
	RefreshToken string
	UserId       int
	Username     string
	Email        string
	UpdatedAt    time.Time
}

const sessionRowId = 1
