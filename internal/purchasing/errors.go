package purchasing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the order does not exist or is outside the caller's branch scope.
	ErrNotFound = errors.New("purchasing: order not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("purchasing: invalid input")
	// ErrUnknownProduct indicates a product missing from the branch catalog.
	ErrUnknownProduct = errors.New("purchasing: unknown product")
	// ErrQuantityOutOfRange indicates an approved quantity outside [0, requested].
	ErrQuantityOutOfRange = errors.New("purchasing: approved quantity out of range")
	// ErrReasonRequired indicates a rejection without a reason.
	ErrReasonRequired = errors.New("purchasing: rejection reason required")
	// ErrInvalidTransition occurs when an action violates the status workflow.
	ErrInvalidTransition = errors.New("purchasing: invalid state transition")
	// ErrStaleVersion occurs when the caller's version is not the order's current version.
	ErrStaleVersion = errors.New("purchasing: stale order version")
	// ErrUseRejectInstead occurs when a partial approval approves nothing.
	ErrUseRejectInstead = errors.New("purchasing: zero approval must use reject")
	// ErrForbidden indicates the principal may not perform the action.
	ErrForbidden = errors.New("purchasing: forbidden")
	// ErrDuplicateRequest occurs when an idempotency key is still being processed.
	ErrDuplicateRequest = errors.New("purchasing: duplicate request in progress")
	// ErrInvariant indicates a computed order state that breaks a consistency rule.
	ErrInvariant = errors.New("purchasing: invariant violated")
)

// TransitionError names the current status, the requested action and what is allowed instead.
type TransitionError struct {
	From    Status
	Action  Action
	Allowed []Action
}

func (e *TransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, a := range e.Allowed {
		allowed = append(allowed, string(a))
	}
	return fmt.Sprintf("purchasing: cannot %s order in %s status (allowed: [%s])", e.Action, e.From, strings.Join(allowed, ", "))
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// LineError points at the offending line of a request.
// Position is 1-based submission order; LineID is set once the line is persisted.
type LineError struct {
	Position  int
	LineID    int64
	Quantity  int64
	Requested int64
	Err       error
}

func (e *LineError) Error() string {
	switch {
	case errors.Is(e.Err, ErrQuantityOutOfRange):
		return fmt.Sprintf("%v: line %d approved %d, requested %d", e.Err, e.LineID, e.Quantity, e.Requested)
	case e.LineID != 0:
		return fmt.Sprintf("%v: line %d", e.Err, e.LineID)
	default:
		return fmt.Sprintf("%v: line %d", e.Err, e.Position)
	}
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// UnknownProductError names the product that is not in the branch catalog.
type UnknownProductError struct {
	ProductID int64
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("%v: %d", ErrUnknownProduct, e.ProductID)
}

func (e *UnknownProductError) Unwrap() error {
	return ErrUnknownProduct
}

// ErrorClass groups errors by how a caller recovers from them.
type ErrorClass string

const (
	ClassValidation ErrorClass = "validation"
	ClassConflict   ErrorClass = "conflict"
	ClassForbidden  ErrorClass = "forbidden"
	ClassNotFound   ErrorClass = "not_found"
	ClassInternal   ErrorClass = "internal"
)

// Classify maps an error to its taxonomy class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnknownProduct),
		errors.Is(err, ErrQuantityOutOfRange), errors.Is(err, ErrReasonRequired):
		return ClassValidation
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStaleVersion),
		errors.Is(err, ErrUseRejectInstead), errors.Is(err, ErrDuplicateRequest):
		return ClassConflict
	case errors.Is(err, ErrForbidden):
		return ClassForbidden
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	default:
		return ClassInternal
	}
}

// ErrorCode returns a stable machine code for API consumers.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownProduct):
		return "UNKNOWN_PRODUCT"
	case errors.Is(err, ErrQuantityOutOfRange):
		return "QUANTITY_OUT_OF_RANGE"
	case errors.Is(err, ErrReasonRequired):
		return "REASON_REQUIRED"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrStaleVersion):
		return "STALE_VERSION"
	case errors.Is(err, ErrUseRejectInstead):
		return "USE_REJECT_INSTEAD"
	case errors.Is(err, ErrDuplicateRequest):
		return "DUPLICATE_REQUEST"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}
