package packs

import "fmt"

// ValidationError reports an artifact that parsed but violated its contract.
// Path is the instance location of the first offending element, e.g.
// "/actuators/2".
type ValidationError struct {
	Kind   Kind
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Reason)
}

// EncodingError reports a payload that could not be decoded at all: malformed
// JSON for document kinds, or non-UTF-8 bytes for the theme.
type EncodingError struct {
	Kind   Kind
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}
