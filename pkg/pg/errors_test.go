package pg_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/quotaledger/pkg/pg"
)

func pgErr(code, constraint string) error {
	return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, ConstraintName: constraint})
}

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), pg.IsNotFoundError, true},
		{"nil not found", nil, pg.IsNotFoundError, false},
		{"tx closed", pgx.ErrTxClosed, pg.IsTxClosedError, true},
		{"duplicate key", pgErr("23505", ""), pg.IsDuplicateKeyError, true},
		{"foreign key", pgErr("23503", ""), pg.IsForeignKeyViolationError, true},
		{"check violation", pgErr("23514", ""), pg.IsCheckViolationError, true},
		{"lock not available", pgErr("55P03", ""), pg.IsLockTimeoutError, true},
		{"query canceled", pgErr("57014", ""), pg.IsLockTimeoutError, true},
		{"deadlock", pgErr("40P01", ""), pg.IsLockTimeoutError, true},
		{"serialization failure", pgErr("40001", ""), pg.IsLockTimeoutError, true},
		{"lock not available only", pgErr("55P03", ""), pg.IsLockNotAvailableError, true},
		{"deadlock only", pgErr("40P01", ""), pg.IsDeadlockError, true},
		{"serialization only", pgErr("40001", ""), pg.IsSerializationFailureError, true},
		{"deadlock is not serialization", pgErr("40P01", ""), pg.IsSerializationFailureError, false},
		{"duplicate is not lock timeout", pgErr("23505", ""), pg.IsLockTimeoutError, false},
		{"plain error", errors.New("boom"), pg.IsDuplicateKeyError, false},
		{"nil lock timeout", nil, pg.IsLockTimeoutError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestConstraintName(t *testing.T) {
	assert.Equal(t, "usage_records_resource_key", pg.ConstraintName(pgErr("23505", "usage_records_resource_key")))
	assert.Empty(t, pg.ConstraintName(errors.New("boom")))
	assert.Empty(t, pg.ConstraintName(nil))
}
