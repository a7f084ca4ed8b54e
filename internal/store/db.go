// Package store persists safety violations.
//
// DB is backed by PostgreSQL through a pgx connection pool; Memory keeps the
// same append-only log in process. Both order listings by violation time,
// newest first, breaking ties on uid.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Insert appends a violation and returns it with the uid assigned by the database
func (db *DB) Insert(ctx context.Context, v NewViolation) (Violation, error) {
	v = v.normalized()

	var uid int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO violations (violation_time, violation_name, violation_image, workshop_name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING uid`,
		v.OccurredAt, v.Class, v.Image, v.Workshop,
	).Scan(&uid)
	if err != nil {
		return Violation{}, fmt.Errorf("failed to insert violation: %w", err)
	}

	return Violation{
		UID:        uid,
		OccurredAt: v.OccurredAt,
		Class:      v.Class,
		Image:      v.Image,
		Workshop:   v.Workshop,
	}, nil
}

// Recent returns the most recent violations without their images
func (db *DB) Recent(ctx context.Context, limit int) ([]Violation, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT uid, violation_time, violation_name, workshop_name
		 FROM violations
		 ORDER BY violation_time DESC, uid DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	return collectSummaries(rows)
}

// All returns every violation without images, newest first
func (db *DB) All(ctx context.Context) ([]Violation, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT uid, violation_time, violation_name, workshop_name
		 FROM violations
		 ORDER BY violation_time DESC, uid DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	return collectSummaries(rows)
}

// Count returns the total number of violations
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM violations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return n, nil
}

// Get retrieves a violation including its image
func (db *DB) Get(ctx context.Context, uid int64) (Violation, error) {
	var v Violation
	err := db.pool.QueryRow(ctx,
		`SELECT uid, violation_time, violation_name, violation_image, workshop_name
		 FROM violations WHERE uid = $1`,
		uid,
	).Scan(&v.UID, &v.OccurredAt, &v.Class, &v.Image, &v.Workshop)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Violation{}, ErrNotFound
		}
		return Violation{}, fmt.Errorf("failed to get violation %d: %w", uid, err)
	}
	return v, nil
}

func collectSummaries(rows pgx.Rows) ([]Violation, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Violation, error) {
		var v Violation
		err := row.Scan(&v.UID, &v.OccurredAt, &v.Class, &v.Workshop)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan violations: %w", err)
	}
	return out, nil
}
