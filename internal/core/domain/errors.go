package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation                 = errors.New("validation failed")
	ErrProductNotFound            = errors.New("product not found")
	ErrProductOrInventoryNotFound = errors.New("product or inventory not found")
	ErrInsufficientStock          = errors.New("insufficient stock")
	ErrOrderNotFound              = errors.New("order not found")
	ErrInvalidTransition          = errors.New("invalid status transition")
	ErrTransactionFailure         = errors.New("transaction failed")
	ErrDuplicateRequest           = errors.New("duplicate request")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every violated field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add appends a field violation.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field was violated.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

type ProductNotFoundError struct {
	ProductIDs []int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("%s: %v", ErrProductNotFound, e.ProductIDs)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// StockError is returned by reservations and adjustments. Kind is either
// ErrInsufficientStock or ErrProductOrInventoryNotFound.
type StockError struct {
	Kind      error
	ProductID int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if errors.Is(e.Kind, ErrInsufficientStock) {
		return fmt.Sprintf("%s for product %d: requested %d, available %d",
			e.Kind, e.ProductID, e.Requested, e.Available)
	}
	return fmt.Sprintf("%s: product %d", e.Kind, e.ProductID)
}

func (e *StockError) Unwrap() error { return e.Kind }

type OrderNotFoundError struct {
	OrderID int64
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("%s: %d", ErrOrderNotFound, e.OrderID)
}

func (e *OrderNotFoundError) Unwrap() error { return ErrOrderNotFound }

type TransitionError struct {
	OrderID int64
	From    OrderStatus
	To      OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s for order %d: %s -> %s", ErrInvalidTransition, e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// TransactionError reports a store failure after a full rollback. Its message
// never contains the store's own error text; the cause is kept for logging.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTransactionFailure, e.Op)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Is(target error) bool {
	return target == ErrTransactionFailure
}

// IsBusinessError reports whether err belongs to the taxonomy produced by the
// core itself, as opposed to an infrastructure failure.
func IsBusinessError(err error) bool {
	for _, kind := range []error{
		ErrValidation,
		ErrProductNotFound,
		ErrProductOrInventoryNotFound,
		ErrInsufficientStock,
		ErrOrderNotFound,
		ErrInvalidTransition,
		ErrDuplicateRequest,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
