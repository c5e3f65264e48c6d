// Package errors implements the decoding error taxonomy with classification and handling behavior.
package errors

import (
	"errors"
	"fmt"
)

// ErrorKind represents the classification of a decoding condition.
// Each kind has defined behavior: either it is surfaced to the caller or
// it is recovered locally by the search.
type ErrorKind int

const (
	// KindConfiguration indicates a request the decoder cannot honor.
	// Examples: out-of-bounds span, reference scoring outside reference mode,
	// invalid configuration, unknown model type.
	KindConfiguration ErrorKind = iota

	// KindNoOptions indicates a source span without translation candidates.
	// Recovered by the unseen-word fallback or by yielding no successors.
	KindNoOptions

	// KindPrefixMismatch indicates a candidate that cannot continue the prefix.
	// Recovered by excluding the candidate.
	KindPrefixMismatch

	// KindReferenceMismatch indicates a candidate that cannot continue the reference.
	// Recovered by excluding the candidate.
	KindReferenceMismatch

	// KindStarvedSearch indicates that every stack emptied before a complete
	// hypothesis was popped.
	KindStarvedSearch
)

var kindNames = map[ErrorKind]string{
	KindConfiguration:     "configuration",
	KindNoOptions:         "no_options",
	KindPrefixMismatch:    "prefix_mismatch",
	KindReferenceMismatch: "reference_mismatch",
	KindStarvedSearch:     "starved_search",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Recovery names the local recovery strategy for an error kind.
type Recovery string

const (
	RecoveryNone      Recovery = "none"
	RecoveryFallback  Recovery = "unseen_word_fallback"
	RecoveryExclusion Recovery = "exclude_candidate"
)

// KindBehavior defines the handling behavior for an error kind.
type KindBehavior struct {
	// Fatal indicates that the decode call fails with this error.
	Fatal bool

	// Recovery is the strategy applied when the kind is not fatal.
	Recovery Recovery

	// ShouldLog indicates whether occurrences are worth a log record.
	ShouldLog bool
}

// DefaultBehaviors returns the default behavior for each error kind.
func DefaultBehaviors() map[ErrorKind]KindBehavior {
	return map[ErrorKind]KindBehavior{
		KindConfiguration: {
			Fatal:     true,
			Recovery:  RecoveryNone,
			ShouldLog: true,
		},
		KindNoOptions: {
			Fatal:     false,
			Recovery:  RecoveryFallback,
			ShouldLog: true,
		},
		KindPrefixMismatch: {
			Fatal:     false,
			Recovery:  RecoveryExclusion,
			ShouldLog: false,
		},
		KindReferenceMismatch: {
			Fatal:     false,
			Recovery:  RecoveryExclusion,
			ShouldLog: false,
		},
		KindStarvedSearch: {
			Fatal:     true,
			Recovery:  RecoveryNone,
			ShouldLog: true,
		},
	}
}

// DecodeError wraps an error with kind classification.
type DecodeError struct {
	Kind       ErrorKind
	Message    string
	Underlying error
	Context    map[string]string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DecodeError) Unwrap() error {
	return e.Underlying
}

// Is checks if the target error matches this DecodeError's kind.
func (e *DecodeError) Is(target error) bool {
	var de *DecodeError
	if errors.As(target, &de) {
		return e.Kind == de.Kind
	}
	return false
}

// NewDecodeError creates a new DecodeError with the given kind and message.
func NewDecodeError(kind ErrorKind, message string, underlying error) *DecodeError {
	return &DecodeError{
		Kind:       kind,
		Message:    message,
		Underlying: underlying,
		Context:    make(map[string]string),
	}
}

// WithContext adds context key-value pairs to the error.
func (e *DecodeError) WithContext(key, value string) *DecodeError {
	e.Context[key] = value
	return e
}

// GetKind extracts the ErrorKind from an error, defaulting to Configuration.
func GetKind(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindConfiguration
}

// GetBehavior returns the behavior for an error's kind.
func GetBehavior(err error) KindBehavior {
	return DefaultBehaviors()[GetKind(err)]
}

// IsFatal reports whether an error must be surfaced to the caller.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return GetBehavior(err).Fatal
}

// Common sentinel errors for each kind.
var (
	// Configuration errors
	ErrInvalidSpan      = NewDecodeError(KindConfiguration, "span out of bounds", nil)
	ErrInactiveMode     = NewDecodeError(KindConfiguration, "operation not valid in current mode", nil)
	ErrInvalidConfig    = NewDecodeError(KindConfiguration, "invalid configuration", nil)
	ErrUnknownModelType = NewDecodeError(KindConfiguration, "unknown model type", nil)
	ErrEmptySentence    = NewDecodeError(KindConfiguration, "empty source sentence", nil)

	// Recovered conditions
	ErrNoOptions         = NewDecodeError(KindNoOptions, "no translation options", nil)
	ErrPrefixMismatch    = NewDecodeError(KindPrefixMismatch, "candidate does not continue prefix", nil)
	ErrReferenceMismatch = NewDecodeError(KindReferenceMismatch, "candidate does not continue reference", nil)

	// Search failures
	ErrStarvedSearch = NewDecodeError(KindStarvedSearch, "stacks exhausted without a complete hypothesis", nil)
)

// Wrap wraps an error with a kind classification.
func Wrap(kind ErrorKind, message string, err error) error {
	if err == nil {
		return nil
	}

	// Don't double-wrap DecodeErrors
	var de *DecodeError
	if errors.As(err, &de) {
		// Preserve existing kind if wrapping
		return &DecodeError{
			Kind:       de.Kind,
			Message:    message,
			Underlying: err,
			Context:    de.Context,
		}
	}

	return NewDecodeError(kind, message, err)
}

// Configurationf builds a configuration error with a formatted message.
func Configurationf(format string, args ...any) *DecodeError {
	return NewDecodeError(KindConfiguration, fmt.Sprintf(format, args...), nil)
}
