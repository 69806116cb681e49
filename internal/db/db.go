package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tphummel/laundry_scan/internal/models"
	_ "modernc.org/sqlite"
)

// ErrDuplicateQRCode is returned when a machine's QR payload is already
// assigned to another machine.
var ErrDuplicateQRCode = errors.New("qr_code already assigned")

// DB wraps a SQLite connection.
type DB struct {
	conn *sql.DB
}

// New opens the SQLite database at path, enables WAL mode, and runs migrations.
// The pool is capped at one connection so write transactions serialize and
// in-memory databases are shared across calls.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := migrate(conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DB{conn: conn}, nil
}

func migrate(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS machines (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			type       TEXT NOT NULL,
			status     TEXT NOT NULL,
			qr_code    TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_machines_status ON machines(status);
		CREATE INDEX IF NOT EXISTS idx_machines_type ON machines(type);

		CREATE TABLE IF NOT EXISTS orders (
			id                   TEXT PRIMARY KEY,
			user_id              TEXT NOT NULL,
			machine_id           TEXT NOT NULL,
			service_type         TEXT NOT NULL,
			status               TEXT NOT NULL,
			started_at           DATETIME NOT NULL,
			estimated_completion DATETIME NOT NULL,
			completed_at         DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
		CREATE INDEX IF NOT EXISTS idx_orders_machine ON orders(machine_id);

		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			token_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping verifies the database connection is alive.
func (d *DB) Ping() error {
	return d.conn.Ping()
}

const machineColumns = `id, name, type, status, qr_code, created_at, updated_at`

// Create inserts a new machine record.
func (d *DB) Create(m *models.Machine) error {
	_, err := d.conn.Exec(`
		INSERT INTO machines (`+machineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Type, m.Status, m.QRCode,
		m.CreatedAt.UTC().Format(time.RFC3339),
		m.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return uniqueErr(err)
}

// GetByID returns the machine with the given ID, or sql.ErrNoRows if not found.
func (d *DB) GetByID(id string) (*models.Machine, error) {
	row := d.conn.QueryRow(`SELECT `+machineColumns+` FROM machines WHERE id = ?`, id)
	return scanMachine(row)
}

// GetByQRCode returns the machine whose QR payload equals qrCode exactly,
// or sql.ErrNoRows if none does.
func (d *DB) GetByQRCode(qrCode string) (*models.Machine, error) {
	row := d.conn.QueryRow(`SELECT `+machineColumns+` FROM machines WHERE qr_code = ?`, qrCode)
	return scanMachine(row)
}

// MachineFilter narrows List. Empty fields match everything.
type MachineFilter struct {
	Status string
	Type   string
}

// List returns machines matching f, ordered by name.
func (d *DB) List(f MachineFilter) ([]*models.Machine, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	q := `SELECT ` + machineColumns + ` FROM machines`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY name`

	rows, err := d.conn.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var machines []*models.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

// Update replaces all mutable fields for the machine with m.ID.
// Returns sql.ErrNoRows if no such machine exists.
func (d *DB) Update(m *models.Machine) error {
	res, err := d.conn.Exec(`
		UPDATE machines
		SET name=?, type=?, status=?, qr_code=?, updated_at=?
		WHERE id=?`,
		m.Name, m.Type, m.Status, m.QRCode,
		m.UpdatedAt.UTC().Format(time.RFC3339),
		m.ID,
	)
	if err != nil {
		return uniqueErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes the machine with the given ID.
// Returns sql.ErrNoRows if no such machine exists.
func (d *DB) Delete(id string) error {
	res, err := d.conn.Exec(`DELETE FROM machines WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByStatus returns the number of machines per status.
func (d *DB) CountByStatus() (map[string]int, error) {
	return d.countBy(`SELECT status, COUNT(*) FROM machines GROUP BY status`)
}

// CountOrdersByStatus returns the number of orders per status.
func (d *DB) CountOrdersByStatus() (map[string]int, error) {
	return d.countBy(`SELECT status, COUNT(*) FROM orders GROUP BY status`)
}

func (d *DB) countBy(query string) (map[string]int, error) {
	rows, err := d.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMachine(s scanner) (*models.Machine, error) {
	var m models.Machine
	var createdAt, updatedAt string
	if err := s.Scan(
		&m.ID, &m.Name, &m.Type, &m.Status, &m.QRCode,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	m.CreatedAt, err = parseTime("created_at", createdAt)
	if err != nil {
		return nil, err
	}
	m.UpdatedAt, err = parseTime("updated_at", updatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func parseTime(column, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", column, v, err)
	}
	return t, nil
}

func uniqueErr(err error) error {
	if err != nil && strings.Contains(err.Error(), "machines.qr_code") {
		return ErrDuplicateQRCode
	}
	return err
}
