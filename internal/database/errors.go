package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation on the named constraint. An empty constraint matches any.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderItemNotFound  = errors.New("order item not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrNoFieldsToUpdate   = errors.New("no valid fields to update")
	ErrDuplicateOrderItem = errors.New("order already contains this product")

	// ErrStockConflict marks a reservation that lost the race between the
	// availability check and the conditional decrement. It is distinct
	// from a pre-check StockUnavailableError so callers can tell "never
	// had stock" from "lost the race".
	ErrStockConflict = errors.New("stock reservation conflict")
)

// ValidationError collects every violation found in a request, not just
// the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, ", ")
}

// StockShortfall describes one product that cannot satisfy the
// requested quantity.
type StockShortfall struct {
	ProductID    int64  `json:"product_id"`
	ProductName  string `json:"product_name,omitempty"`
	Requested    int    `json:"requested"`
	CurrentStock int    `json:"current_stock"`
	Reason       string `json:"reason"`
}

// StockUnavailableError reports every unavailable product from the
// pre-transaction availability check.
type StockUnavailableError struct {
	Shortfalls []StockShortfall
}

func (e *StockUnavailableError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("product %d: %s (requested %d, in stock %d)",
			s.ProductID, s.Reason, s.Requested, s.CurrentStock))
	}
	return "stock unavailable: " + strings.Join(parts, ", ")
}
