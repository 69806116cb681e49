package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tphummel/laundry_scan/internal/models"
)

// ErrOrderNotInProgress is returned when completing an order that has
// already finished.
var ErrOrderNotInProgress = errors.New("order is not in progress")

const orderColumns = `id, user_id, machine_id, service_type, status, started_at, estimated_completion, completed_at`

// StartLaundryOrder atomically claims an Available machine for userID and
// records a new In Progress order for it. It returns models.ErrMachineNotFound
// for an unknown machine and models.ErrMachineUnavailable when the machine is
// in any other state; in both cases nothing is written. Of two concurrent
// calls for the same machine exactly one succeeds.
func (d *DB) StartLaundryOrder(ctx context.Context, userID, machineID, serviceType string) (*models.Order, error) {
	duration, ok := models.ServiceDurations[serviceType]
	if !ok {
		return nil, models.ErrUnknownServiceType
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM machines WHERE id = ?`, machineID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrMachineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load machine: %w", err)
	}
	if status != models.StatusAvailable {
		return nil, models.ErrMachineUnavailable
	}

	now := time.Now().UTC().Truncate(time.Second)
	res, err := tx.ExecContext(ctx, `
		UPDATE machines SET status=?, updated_at=?
		WHERE id=? AND status=?`,
		models.StatusInUse, now.Format(time.RFC3339),
		machineID, models.StatusAvailable,
	)
	if err != nil {
		return nil, fmt.Errorf("claim machine: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, models.ErrMachineUnavailable
	}

	o := &models.Order{
		ID:                  uuid.New().String(),
		UserID:              userID,
		MachineID:           machineID,
		ServiceType:         serviceType,
		Status:              models.OrderInProgress,
		StartedAt:           now,
		EstimatedCompletion: now.Add(duration),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		o.ID, o.UserID, o.MachineID, o.ServiceType, o.Status,
		o.StartedAt.Format(time.RFC3339),
		o.EstimatedCompletion.Format(time.RFC3339),
	); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return o, nil
}

// CompleteOrder marks an In Progress order Completed and releases its
// machine back to Available in one transaction. Returns sql.ErrNoRows for an
// unknown order and ErrOrderNotInProgress if it was already completed.
func (d *DB) CompleteOrder(ctx context.Context, orderID string) (*models.Order, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID))
	if err != nil {
		return nil, err
	}
	if o.Status != models.OrderInProgress {
		return nil, ErrOrderNotInProgress
	}

	now := time.Now().UTC().Truncate(time.Second)
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status=?, completed_at=? WHERE id=?`,
		models.OrderCompleted, now.Format(time.RFC3339), o.ID,
	); err != nil {
		return nil, fmt.Errorf("complete order: %w", err)
	}
	// Only an In Use machine is released; a machine an operator moved to
	// maintenance meanwhile keeps that status.
	if _, err := tx.ExecContext(ctx, `
		UPDATE machines SET status=?, updated_at=?
		WHERE id=? AND status=?`,
		models.StatusAvailable, now.Format(time.RFC3339),
		o.MachineID, models.StatusInUse,
	); err != nil {
		return nil, fmt.Errorf("release machine: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	o.Status = models.OrderCompleted
	o.CompletedAt = &now
	return o, nil
}

// GetOrder returns the order with the given ID, or sql.ErrNoRows.
func (d *DB) GetOrder(id string) (*models.Order, error) {
	return scanOrder(d.conn.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
}

// ListOrders returns the orders placed by userID, newest first.
func (d *DB) ListOrders(userID string) ([]*models.Order, error) {
	rows, err := d.conn.Query(`
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = ?
		ORDER BY started_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(s scanner) (*models.Order, error) {
	var o models.Order
	var startedAt, estimated string
	var completedAt sql.NullString
	if err := s.Scan(
		&o.ID, &o.UserID, &o.MachineID, &o.ServiceType, &o.Status,
		&startedAt, &estimated, &completedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if o.StartedAt, err = parseTime("started_at", startedAt); err != nil {
		return nil, err
	}
	if o.EstimatedCompletion, err = parseTime("estimated_completion", estimated); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime("completed_at", completedAt.String)
		if err != nil {
			return nil, err
		}
		o.CompletedAt = &t
	}
	return &o, nil
}
