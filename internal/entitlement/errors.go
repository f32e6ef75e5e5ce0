package entitlement

import (
	"errors"
	"fmt"
)

var (
	errUnknownMarker = errors.New("unknown marker key")
	errNoPeriodStart = errors.New("subscription has neither period start nor creation time")
)

// InvalidInputError reports account data the evaluator refuses to coerce.
type InvalidInputError struct {
	Field string
	Value string
	Err   error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }
