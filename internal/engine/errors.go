package engine

import (
	"errors"
	"fmt"
)

// ErrUnknownInstance is returned for operations naming an instance the
// engine does not know.
var ErrUnknownInstance = errors.New("unknown instance")

func unknownInstance(id string) error {
	return fmt.Errorf("%w %q", ErrUnknownInstance, id)
}
