package datasource

import (
	"errors"
	"fmt"
	"strings"
)

// ErrWriteBlocked is returned for any statement that would modify data.
var ErrWriteBlocked = errors.New("write operation not allowed in export service")

var writePrefixes = []string{"INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP", "TRUNCATE"}

// EnsureReadOnly rejects statements that start with a write verb.
func EnsureReadOnly(query string) error {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range writePrefixes {
		if strings.HasPrefix(upper, prefix) {
			return fmt.Errorf("%w: %s", ErrWriteBlocked, prefix)
		}
	}
	return nil
}
