package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected before any state change.
	ErrValidation = errors.New("invalid input")
	// ErrInvalidState indicates a transition attempted from a state that does not allow it.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrInsufficientStock indicates a ledger debit that would drive quantity negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrencyConflict indicates two workflows raced on the same row.
	ErrConcurrencyConflict = errors.New("concurrent modification, try again")
)

// MapPgConflict converts PostgreSQL serialization failures and deadlocks into
// ErrConcurrencyConflict so transaction wrappers can retry them.
func MapPgConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return ErrConcurrencyConflict
	}
	return err
}

// UserSafeMessage returns a message suitable for end users. Validation and
// state errors are specific; stock and concurrency errors are transient
// contention, so callers get a generic retry message.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrConcurrencyConflict):
		return "the operation could not be completed right now, please try again"
	default:
		return err.Error()
	}
}
