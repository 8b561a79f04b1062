package validate

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/mpataki/geolaunch/internal/models"
)

var (
	ErrEmptyField   = errors.New("cannot be empty")
	ErrNotANumber   = errors.New("must be a number")
	ErrFileNotFound = errors.New("file does not exist")
)

// ValidationError names the first parameter that failed and why.
type ValidationError struct {
	Label  string
	Value  string
	Reason error
}

func (e *ValidationError) Error() string {
	switch {
	case errors.Is(e.Reason, ErrFileNotFound):
		return fmt.Sprintf("the file %q for %q does not exist", e.Value, e.Label)
	case errors.Is(e.Reason, ErrNotANumber) && e.Value != "":
		return fmt.Sprintf("the field %q must be a number (got %q)", e.Label, e.Value)
	default:
		return fmt.Sprintf("the field %q %s", e.Label, e.Reason)
	}
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// Validate checks in against op's parameters in declared order and returns
// the first failure. It does not modify in.
func Validate(op models.OperationDescriptor, in models.InputValue) error {
	for _, p := range op.Parameters {
		raw, ok := in[p.Label]
		value := strings.TrimSpace(raw)
		if !ok || value == "" {
			return &ValidationError{Label: p.Label, Reason: ErrEmptyField}
		}

		if err := checkKind(p, value); err != nil {
			return &ValidationError{Label: p.Label, Value: value, Reason: err}
		}
	}
	return nil
}

func checkKind(p models.ParameterDescriptor, value string) error {
	switch p.Kind {
	case models.KindNumber:
		if p.IsReal() {
			if !isNonNegativeReal(value) {
				return ErrNotANumber
			}
			return nil
		}
		if !isDigits(value) {
			return ErrNotANumber
		}
	case models.KindFile:
		if _, err := os.Stat(value); err != nil {
			return ErrFileNotFound
		}
	}
	return nil
}

// isDigits accepts unsigned base-10 integers of any length.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isNonNegativeReal(s string) bool {
	// A sign is only allowed in the exponent, so "-0" is rejected too.
	if s == "" || s[0] == '-' {
		return false
	}
	// ParseFloat also takes hex, underscores and "inf"; restrict to plain
	// decimals first.
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && c != '.' && c != 'e' && c != 'E' && c != '+' && c != '-' {
			return false
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	return f >= 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}
