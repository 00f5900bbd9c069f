package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateFeatureNotSupported = "0A000"
)

// ErrTransactionsUnsupported signals that the storage deployment rejected a
// multi-statement transaction (e.g. a statement-pooling proxy in front of
// Postgres). It is internal: the unit-of-work layer consumes it.
var ErrTransactionsUnsupported = errors.New("transactions not supported by storage")

// IsUniqueViolation reports whether the provided error references a unique
// violation. When constraintName is provided, the helper also requires the
// violation to name that constraint where the driver reports it.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		if strings.Contains(msg, constraintName) {
			return true
		}
		var pgxErr *pgconn.PgError
		if errors.As(err, &pgxErr) {
			return pgxErr.Code == sqlStateUniqueViolation && pgxErr.ConstraintName == constraintName
		}
		// SQLite names the columns rather than the index.
		return strings.Contains(msg, "UNIQUE constraint failed")
	}
	if sqlState(err) == sqlStateUniqueViolation {
		return true
	}
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsTransactionUnsupported reports whether err means the backend cannot run
// the statement inside a transaction block.
func IsTransactionUnsupported(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransactionsUnsupported) {
		return true
	}
	if sqlState(err) == sqlStateFeatureNotSupported {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "transaction blocks not allowed") ||
		strings.Contains(msg, "transactions are not supported")
}

func classifyTxError(err error) error {
	if err == nil || errors.Is(err, ErrTransactionsUnsupported) {
		return err
	}
	if IsTransactionUnsupported(err) {
		return fmt.Errorf("%w: %w", ErrTransactionsUnsupported, err)
	}
	return err
}

func sqlState(err error) string {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
