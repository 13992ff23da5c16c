package pg

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrFailedToOpenDBConnection = errors.New("failed to open db connection")
	ErrHealthcheckFailed        = errors.New("healthcheck failed, connection is not available")
	ErrFailedToParseDBConfig    = errors.New("failed to parse db config")
	ErrFailedToApplyMigrations  = errors.New("failed to apply migrations")
	ErrMigrationsNotProvided    = errors.New("migrations filesystem not provided")
	ErrSchemaNotReady           = errors.New("database schema is not migrated")
)

// SQLSTATE codes the quota store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// IsNotFoundError detects pgx.ErrNoRows for consistent "not found" handling across queries.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}

// IsTxClosedError detects attempts to use closed transactions.
func IsTxClosedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrTxClosed)
}

// IsDuplicateKeyError detects unique constraint violations (SQLSTATE 23505).
func IsDuplicateKeyError(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

// IsForeignKeyViolationError detects referential integrity violations (SQLSTATE 23503).
func IsForeignKeyViolationError(err error) bool {
	return hasCode(err, codeForeignKeyViolation)
}

// IsCheckViolationError detects CHECK constraint violations (SQLSTATE 23514).
func IsCheckViolationError(err error) bool {
	return hasCode(err, codeCheckViolation)
}

// IsLockNotAvailableError detects lock_timeout expiry (SQLSTATE 55P03).
func IsLockNotAvailableError(err error) bool {
	return hasCode(err, codeLockNotAvailable)
}

// IsDeadlockError detects transactions aborted by deadlock detection (SQLSTATE 40P01).
func IsDeadlockError(err error) bool {
	return hasCode(err, codeDeadlockDetected)
}

// IsSerializationFailureError detects serialization failures (SQLSTATE 40001).
func IsSerializationFailureError(err error) bool {
	return hasCode(err, codeSerializationFailure)
}

// IsLockTimeoutError reports errors caused by lock contention: lock_timeout
// expiry (55P03), statement cancellation while waiting (57014), deadlocks
// (40P01) and serialization failures (40001). All of them are safe to retry.
func IsLockTimeoutError(err error) bool {
	return hasCode(err, codeLockNotAvailable, codeQueryCanceled, codeDeadlockDetected, codeSerializationFailure)
}

// ConstraintName returns the name of the violated constraint, or an empty
// string when err is not a constraint violation.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func hasCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	for _, c := range codes {
		if pgErr.Code == c {
			return true
		}
	}
	return false
}
