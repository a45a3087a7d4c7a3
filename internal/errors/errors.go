// Package errors classifies failures at handler boundaries so the event
// bus knows whether to retry, back off, or surface a normal state
// transition. See spec section 7 (error handling design).
package errors

import "fmt"

// Kind is the error taxonomy every handler boundary must classify into.
type Kind int

const (
	// KindRetriable is a transient failure (provider 5xx, timeout, 429).
	// The bus retries with backoff up to a bounded count.
	KindRetriable Kind = iota
	// KindNonRetriable is a precondition violation (missing tenant,
	// inactive campaign, malformed payload). The handler aborts without
	// retry and the operator is notified.
	KindNonRetriable
	// KindParse is an LLM response that failed to parse as JSON. Policy
	// depends on the stage (see each stage's doc comment).
	KindParse
	// KindConflict is a unique-violation race, caught and converted to
	// read-then-update by the caller.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindRetriable:
		return "retriable"
	case KindNonRetriable:
		return "non_retriable"
	case KindParse:
		return "parse"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Classified wraps an error with its kind and the reason string recorded
// in the audit log.
type Classified struct {
	Kind   Kind
	Reason string
	Err    error
}

func (c *Classified) Error() string {
	if c.Err != nil {
		return fmt.Sprintf("%s: %s: %v", c.Kind, c.Reason, c.Err)
	}
	return fmt.Sprintf("%s: %s", c.Kind, c.Reason)
}

func (c *Classified) Unwrap() error { return c.Err }

// NonRetriable wraps err as a non-retriable classified error.
func NonRetriable(reason string, err error) *Classified {
	return &Classified{Kind: KindNonRetriable, Reason: reason, Err: err}
}

// Retriable wraps err as a retriable classified error.
func Retriable(reason string, err error) *Classified {
	return &Classified{Kind: KindRetriable, Reason: reason, Err: err}
}

// ParseFailure wraps err as a parse/semantic classified error.
func ParseFailure(reason string, err error) *Classified {
	return &Classified{Kind: KindParse, Reason: reason, Err: err}
}

// Conflict wraps err as a conflict classified error.
func Conflict(reason string, err error) *Classified {
	return &Classified{Kind: KindConflict, Reason: reason, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindRetriable for
// unclassified errors so unknown failures are never silently dropped.
func KindOf(err error) Kind {
	if c, ok := err.(*Classified); ok {
		return c.Kind
	}
	return KindRetriable
}

// IsNonRetriable reports whether err should abort without backoff.
func IsNonRetriable(err error) bool {
	return KindOf(err) == KindNonRetriable
}
