package auth

import "fmt"

// unauthenticated wraps a formatted verification failure so that
// errors.Is(err, ErrUnauthenticated) holds for every rejection path.
func unauthenticated(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrUnauthenticated, fmt.Errorf(format, args...))
}
