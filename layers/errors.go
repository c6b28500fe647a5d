// errors.go - Fehler der Transformer-Schichten
package layers

import (
	"errors"
	"fmt"
)

// ErrPrecondition mirrors tensor.ErrPrecondition for layer-level checks
// that happen before any tensor operation is invoked.
var ErrPrecondition = errors.New("precondition violated")

func preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPrecondition}, args...)...)
}
