package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// Sentinel errors for store operations
var (
	// ErrConstraintViolation is returned when the store rejects an insert or update
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrQueryTimeout is returned when a statement's deadline expires
	ErrQueryTimeout = errors.New("query timeout")

	// ErrConnClosed is returned when using a connection after Release
	ErrConnClosed = errors.New("connection already released")
)

// IsConstraintViolation checks if an error is ErrConstraintViolation
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}

// IsQueryTimeout checks if an error is ErrQueryTimeout
func IsQueryTimeout(err error) bool {
	return errors.Is(err, ErrQueryTimeout)
}

// MySQL server error numbers that signal a rejected row
var mysqlConstraintErrors = map[uint16]bool{
	1048: true, // column cannot be null
	1062: true, // duplicate entry
	1216: true, // child row: foreign key fails (legacy)
	1217: true, // parent row: foreign key fails (legacy)
	1451: true, // cannot delete or update a parent row
	1452: true, // cannot add or update a child row
	3819: true, // check constraint violated
}

// sqliteConstraint is the primary SQLITE_CONSTRAINT result code
const sqliteConstraint = 19

// classify maps driver errors onto the package sentinels, keeping the cause
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrQueryTimeout, err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && mysqlConstraintErrors[myErr.Number] {
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}

	// the pure-Go SQLite driver exposes extended result codes via Code()
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code()&0xff == sqliteConstraint {
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}

	return err
}
