package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/pantrypilot/pantrypilot-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return mapUniqueConstraint(pqErr)

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_positive"):
		return errors.Validation(map[string]string{
			"quantity": "must be greater than zero",
		})

	case strings.Contains(constraint, "remaining_non_negative"):
		return errors.Validation(map[string]string{
			"remaining_quantity": "must not be negative",
		})

	case strings.Contains(constraint, "reason_valid"):
		return errors.Validation(map[string]string{
			"reason": "must be one of: cooking, waste, spoilage",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func mapUniqueConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "dedupe_key"):
		return errors.DuplicateKey("dedupe_key")
	case strings.Contains(constraint, "barcode"):
		return errors.DuplicateKey("barcode")
	default:
		return errors.Conflict("a record with these values already exists")
	}
}

// MapError maps PostgreSQL constraint errors to AppErrors and returns any
// other error, including nil, unchanged.
func MapError(err error) error {
	if mapped := MapPQError(err); mapped != nil {
		return mapped
	}
	return err
}
