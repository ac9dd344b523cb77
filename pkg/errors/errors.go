package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound               = errors.New("resource not found")
	ErrBadRequest             = errors.New("bad request")
	ErrConflict               = errors.New("resource conflict")
	ErrInternal               = errors.New("internal server error")
	ErrValidation             = errors.New("validation error")
	ErrInvalidReason          = errors.New("invalid reason")
	ErrUnknownItem            = errors.New("unknown item")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInsufficientBatchStock = errors.New("insufficient batch stock")
	ErrDuplicateKey           = errors.New("duplicate key")
	ErrLockNotObtained        = errors.New("lock not obtained")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Inventory error constructors

// InvalidReason is returned when a stock-out reason is outside the allowed set.
func InvalidReason(reason string, allowed []string) *AppError {
	allowedList := ""
	for i, a := range allowed {
		if i > 0 {
			allowedList += ", "
		}
		allowedList += a
	}
	return &AppError{
		Err:        ErrInvalidReason,
		Code:       "INVALID_REASON",
		Message:    "reason must be one of: " + allowedList,
		StatusCode: http.StatusBadRequest,
		Details:    map[string]string{"reason": reason},
	}
}

// UnknownItem is returned when an item has no stock history.
func UnknownItem(itemID string) *AppError {
	return &AppError{
		Err:        ErrUnknownItem,
		Code:       "UNKNOWN_ITEM",
		Message:    "item has no stock history",
		StatusCode: http.StatusNotFound,
		Details:    map[string]string{"item_id": itemID},
	}
}

// InsufficientStock carries the on-hand and requested quantities.
func InsufficientStock(available, requested string) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    "insufficient quantity on hand",
		StatusCode: http.StatusBadRequest,
		Details:    map[string]string{"available": available, "requested": requested},
	}
}

// InsufficientBatchStock carries the remaining batch quantity and the requested total.
func InsufficientBatchStock(available, requested string) *AppError {
	return &AppError{
		Err:        ErrInsufficientBatchStock,
		Code:       "INSUFFICIENT_BATCH_STOCK",
		Message:    "insufficient inventory in batches for FIFO consumption",
		StatusCode: http.StatusBadRequest,
		Details:    map[string]string{"available": available, "requested": requested},
	}
}

// DuplicateKey is returned on unique key collisions (barcodes, dedupe keys).
func DuplicateKey(key string) *AppError {
	return &AppError{
		Err:        ErrDuplicateKey,
		Code:       "DUPLICATE_KEY",
		Message:    "a record with this key already exists",
		StatusCode: http.StatusConflict,
		Details:    map[string]string{"key": key},
	}
}

// Busy is returned when a per-item critical section could not be entered in time.
func Busy(key string) *AppError {
	return &AppError{
		Err:        ErrLockNotObtained,
		Code:       "RESOURCE_BUSY",
		Message:    "resource is busy, retry later",
		StatusCode: http.StatusConflict,
		Details:    map[string]string{"key": key},
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
