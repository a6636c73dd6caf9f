package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"qms/scheduler/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"

	activeTicketIndex = "tickets_active_user_office_uq"
)

var domainErrors = []error{
	store.ErrDuplicateActiveRequest,
	store.ErrInvalidTransition,
	store.ErrTicketNotFound,
	store.ErrNotFoundOrAlreadyTerminal,
	store.ErrAppointmentNotFound,
	store.ErrSlotFull,
	store.ErrInvalidDate,
	store.ErrInvalidInput,
	store.ErrStoreUnavailable,
}

// classify maps driver errors onto the store taxonomy. Business errors pass
// through untouched; everything else becomes ErrStoreUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == activeTicketIndex {
		return store.ErrDuplicateActiveRequest
	}
	return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
}

// isTransient reports failures a read may safely repeat: lost connections,
// serialization failures and deadlocks.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// retryRead runs a read-only query, repeating it once on a transient failure.
// Writes never go through here.
func retryRead[T any](ctx context.Context, read func() (T, error)) (T, error) {
	value, err := read()
	if err != nil && isTransient(err) && ctx.Err() == nil {
		value, err = read()
	}
	if err != nil {
		var zero T
		return zero, classify(err)
	}
	return value, nil
}
