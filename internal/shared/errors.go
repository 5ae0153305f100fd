package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates a referenced project, product, warehouse, document or reservation is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest indicates malformed input or a rule violated by the request itself.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidState indicates the target's status forbids the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrInsufficientStock indicates available or physical quantity is below the request.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnauthorized indicates a missing or unknown bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDuplicateRequest indicates an idempotency key that was already processed.
	ErrDuplicateRequest = errors.New("duplicate request")
)

// InsufficientStockError carries the quantities that caused the rejection.
type InsufficientStockError struct {
	WarehouseID int64
	ProductID   int64
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d in warehouse %d: available %s, requested %s",
		e.ProductID, e.WarehouseID, e.Available.String(), e.Requested.String())
}

// Is lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// InvalidRequestf wraps ErrInvalidRequest with context.
func InvalidRequestf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidRequest)
}

// InvalidStatef wraps ErrInvalidState with context.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidState)
}

// IsDomainError reports whether err is a rejected operation rather than a fault.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrUnauthorized)
}

// UserSafeMessage returns a message that can be shown to API clients.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsDomainError(err):
		return err.Error()
	default:
		return "internal error"
	}
}
