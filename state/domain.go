package state

import (
	"fmt"
	"unicode/utf8"
)

// Domain is the set of values a property accepts, with a default for keys
// the device has not reported yet.
type Domain interface {
	// Validate returns an error wrapping ErrDomain if v is outside the
	// domain.
	Validate(v any) error

	// Default returns the value Get reports before the device has
	// confirmed one.
	Default() any
}

// IntRange accepts integers in [Min, Max].
type IntRange struct {
	Min, Max int
	Def      int
}

func (d IntRange) Validate(v any) error {
	n, ok := v.(int)
	if !ok {
		return fmt.Errorf("%w: %T is not an integer", ErrDomain, v)
	}
	if n < d.Min || n > d.Max {
		return fmt.Errorf("%w: %d outside [%d, %d]", ErrDomain, n, d.Min, d.Max)
	}
	return nil
}

func (d IntRange) Default() any { return d.Def }

// BoolDomain accepts booleans.
type BoolDomain struct {
	Def bool
}

func (d BoolDomain) Validate(v any) error {
	if _, ok := v.(bool); !ok {
		return fmt.Errorf("%w: %T is not a bool", ErrDomain, v)
	}
	return nil
}

func (d BoolDomain) Default() any { return d.Def }

// EnumDomain accepts integers from a fixed set.
type EnumDomain struct {
	Values []int
	Def    int
}

func (d EnumDomain) Validate(v any) error {
	n, ok := v.(int)
	if !ok {
		return fmt.Errorf("%w: %T is not an integer", ErrDomain, v)
	}
	for _, allowed := range d.Values {
		if n == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %d not in %v", ErrDomain, n, d.Values)
}

func (d EnumDomain) Default() any { return d.Def }

// StringDomain accepts valid UTF-8 strings up to MaxBytes.
type StringDomain struct {
	MaxBytes int
	Def      string
}

func (d StringDomain) Validate(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("%w: %T is not a string", ErrDomain, v)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: not valid UTF-8", ErrDomain)
	}
	if d.MaxBytes > 0 && len(s) > d.MaxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrDomain, len(s), d.MaxBytes)
	}
	return nil
}

func (d StringDomain) Default() any { return d.Def }
