package db

import (
	"time"

	"github.com/tphummel/laundry_scan/internal/models"
)

// CreateUser inserts u with the bcrypt hash of its token secret.
func (d *DB) CreateUser(u *models.User, tokenHash string) error {
	_, err := d.conn.Exec(`
		INSERT INTO users (id, name, token_hash, created_at)
		VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, tokenHash, u.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetUser returns the user with the given ID together with its stored token
// hash, or sql.ErrNoRows if not found.
func (d *DB) GetUser(id string) (*models.User, string, error) {
	var (
		u         models.User
		hash      string
		createdAt string
	)
	err := d.conn.QueryRow(`
		SELECT id, name, token_hash, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &hash, &createdAt)
	if err != nil {
		return nil, "", err
	}
	if u.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, "", err
	}
	return &u, hash, nil
}
