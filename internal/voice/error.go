package voice

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("voice not found")

// NotFoundError reports an unknown voice together with the known ones.
type NotFoundError struct {
	Requested string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Voice '%s' not found. Available voices: %s", e.Requested, strings.Join(e.Available, ", "))
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
