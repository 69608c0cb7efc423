package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the repositories distinguish
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeCheckViolation      = "23514"
	codeInvalidText         = "22P02"
)

// MapPostgresError converts driver errors into model errors.
// Constraint violations become domain errors that still wrap the driver
// error, so ConstraintName works on the result. Every other failure is
// reported as models.ErrUnavailable with the cause attached.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if alreadyMapped(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %w", models.ErrConflict, err)
		case codeForeignKeyViolation, codeNotNullViolation, codeCheckViolation, codeInvalidText:
			return fmt.Errorf("%w: %w", models.ErrBadRequest, err)
		}
	}

	return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
}

// alreadyMapped reports whether err already carries a model error, so that
// mapping twice is harmless
func alreadyMapped(err error) bool {
	for _, target := range []error{
		models.ErrNotFound, models.ErrConflict, models.ErrBadRequest, models.ErrUnavailable,
		models.ErrDuplicateEmail, models.ErrDuplicateUsername,
		models.ErrMFAAlreadyEnabled, models.ErrMFANotEnabled, models.ErrPendingMFAExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ConstraintName returns the violated constraint of a unique violation, or ""
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}

// IsUniqueViolationOn reports whether err violates a constraint whose name contains column
func IsUniqueViolationOn(err error, column string) bool {
	name := ConstraintName(err)
	return name != "" && strings.Contains(name, column)
}

// WithTransaction runs fn in a transaction, committing only when fn succeeds
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return MapPostgresError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
