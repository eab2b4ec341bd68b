package store

import (
	"time"
)

// AdminUser is an operator allowed to use the write routes of the web API
// (task submission, navigation, door and device registration).
type AdminUser struct {
	ID           int64
	Username     string
	PasswordHash string // bcrypt
	CreatedAt    time.Time
}

func (db *DB) CreateAdminUser(username, passwordHash string) error {
	_, err := db.Exec(db.Q(`INSERT INTO admin_users (username, password_hash) VALUES (?, ?)`), username, passwordHash)
	return err
}

// GetAdminUser looks up an operator at login. A missing user is a
// not-found error (see IsNotFound).
func (db *DB) GetAdminUser(username string) (*AdminUser, error) {
	u := &AdminUser{Username: username}
	var createdAt any
	row := db.QueryRow(db.Q(`SELECT id, password_hash, created_at FROM admin_users WHERE username=?`), username)
	if err := row.Scan(&u.ID, &u.PasswordHash, &createdAt); err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

// AdminUserExists reports whether any operator is configured; the web
// server seeds a default one on first start when none is.
func (db *DB) AdminUserExists() (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM admin_users`).Scan(&n)
	return n > 0, err
}
