// README: Floor module errors.
package floor

import (
	"errors"
	"fmt"

	"floortwin/internal/types"
)

var (
	ErrNotFound   = errors.New("entity not found")
	ErrConflict   = errors.New("concurrent modification, retry from a fresh read")
	ErrBadRequest = errors.New("bad request")
)

// NotFoundError names the missing entity. It matches ErrNotFound.
type NotFoundError struct {
	Kind string
	ID   types.ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(kind string, id types.ID) error {
	return &NotFoundError{Kind: kind, ID: id}
}
