package metadata

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingRequiredTag is returned when tenant or dataset cannot be resolved.
	ErrMissingRequiredTag = errors.New("missing required tag")
	// ErrInvalidTagValue is returned when a recognized tag carries a value outside its enum.
	ErrInvalidTagValue = errors.New("invalid tag value")
)

// MissingTagError names the required keys that could not be resolved.
type MissingTagError struct {
	Keys []string
}

func (e *MissingTagError) Error() string {
	return fmt.Sprintf("missing required tags: [%s]", strings.Join(e.Keys, " "))
}

func (e *MissingTagError) Unwrap() error { return ErrMissingRequiredTag }

// InvalidTagError reports a tag whose value is not allowed.
type InvalidTagError struct {
	Key     string
	Value   string
	Allowed []string
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("invalid %s: %q (allowed: %s)", e.Key, e.Value, strings.Join(e.Allowed, ", "))
}

func (e *InvalidTagError) Unwrap() error { return ErrInvalidTagValue }
