package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const orderCodeMaxAttempts = 10

func orderCodePrefix(t time.Time) string {
	return "ORD-" + t.Format("20060102") + "-"
}

func formatOrderCode(t time.Time, counter int64) string {
	return fmt.Sprintf("%s%03d", orderCodePrefix(t), counter)
}

// fallbackOrderCode trades the zero-padded counter for guaranteed
// uniqueness when the sequential path keeps colliding.
func fallbackOrderCode(t time.Time) string {
	return fmt.Sprintf("%s%d", orderCodePrefix(t), t.Unix())
}

// AllocateOrderCode produces the next date-scoped sequential code
// (ORD-YYYYMMDD-NNN, counter resets daily). It re-reads today's highest
// counter, formats the successor, and rechecks existence since another
// order may have landed in between; after orderCodeMaxAttempts
// collisions it falls back to an epoch-seconds suffix.
//
// The read-then-check window cannot be fully closed here: the orders
// table carries a unique constraint on order_code and PlaceOrder
// retries allocation when the insert trips it.
func AllocateOrderCode(ctx context.Context, db *sql.DB, now time.Time) (string, error) {
	for attempt := 0; attempt < orderCodeMaxAttempts; attempt++ {
		counter, err := maxOrderCodeCounter(ctx, db, now)
		if err != nil {
			return "", err
		}

		code := formatOrderCode(now, counter+1)

		exists, err := OrderCodeExists(ctx, db, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}

	return fallbackOrderCode(now), nil
}

// maxOrderCodeCounter returns the highest numeric suffix among today's
// codes, or 0 when none exist. Caller-supplied codes may carry
// non-numeric suffixes under the same prefix, hence the digit guard.
func maxOrderCodeCounter(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	var max sql.NullInt64

	query := `
		SELECT MAX(split_part(order_code, '-', 3)::bigint)
		FROM orders
		WHERE order_code LIKE $1
		  AND split_part(order_code, '-', 3) ~ '^[0-9]+$'`

	err := db.QueryRowContext(ctx, query, orderCodePrefix(now)+"%").Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max order code counter: %w", err)
	}

	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

func OrderCodeExists(ctx context.Context, db *sql.DB, code string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE order_code = $1)",
		code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check order code exists: %w", err)
	}
	return exists, nil
}
