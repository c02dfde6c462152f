package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWrapErr(t *testing.T) {
	assert.NoError(t, wrapErr(nil))

	unavailableErrs := []error{
		driver.ErrBadConn,
		fmt.Errorf("query: %w", driver.ErrBadConn),
		&pgconn.PgError{Code: "08006"},
		&pgconn.PgError{Code: "57P01"},
		&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
	}
	for _, err := range unavailableErrs {
		assert.ErrorIs(t, wrapErr(err), ErrStoreUnavailable, err.Error())
	}

	passthrough := []error{
		&pgconn.PgError{Code: "42P01"},
		errors.New("boom"),
		context.Canceled,
		fmt.Errorf("scan: %w", context.DeadlineExceeded),
	}
	for _, err := range passthrough {
		got := wrapErr(err)
		assert.NotErrorIs(t, got, ErrStoreUnavailable, err.Error())
		assert.ErrorIs(t, got, err)
	}
}

func TestNormalizeDatabaseURL(t *testing.T) {
	assert.Equal(t,
		"postgres://u:p@localhost:5432/otr?sslmode=disable",
		normalizeDatabaseURL("postgres://u:p@localhost:5432/otr?schema=public&sslmode=disable"))
	assert.Equal(t, "postgres://localhost/otr", normalizeDatabaseURL("postgres://localhost/otr"))
}
