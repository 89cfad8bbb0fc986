package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRetrieval is returned when the vector index is unreachable or times out.
	ErrRetrieval = errors.New("retrieval error")

	// ErrEmbeddingUnavailable is returned when the embedding provider fails after retries.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrValidationInput is returned for malformed catalog rows or extracted items.
	ErrValidationInput = errors.New("invalid input")

	// ErrIndexConsistency is returned when catalog and vector writes diverge.
	ErrIndexConsistency = errors.New("index consistency error")

	ErrNotFound = errors.New("not found")
)

// Error attaches one of the sentinel kinds above to an operation and its cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func RetrievalError(op string, err error) error {
	return &Error{Kind: ErrRetrieval, Op: op, Err: err}
}

func EmbeddingError(op string, err error) error {
	return &Error{Kind: ErrEmbeddingUnavailable, Op: op, Err: err}
}

func InputError(op, format string, args ...any) error {
	return &Error{Kind: ErrValidationInput, Op: op, Err: fmt.Errorf(format, args...)}
}

func ConsistencyError(op string, err error) error {
	return &Error{Kind: ErrIndexConsistency, Op: op, Err: err}
}

var kindNames = []struct {
	kind error
	name string
}{
	{ErrRetrieval, "retrieval"},
	{ErrEmbeddingUnavailable, "embedding_unavailable"},
	{ErrValidationInput, "validation_input"},
	{ErrIndexConsistency, "index_consistency"},
	{ErrNotFound, "not_found"},
}

// KindOf returns a short machine-readable name for the error's kind. The
// outermost *Error decides; its cause may carry a different kind.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		err = de.Kind
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "internal"
}
