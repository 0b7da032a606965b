package shared

import "errors"

// ErrNotFound is returned by master-data lookups when no party or document
// matches.
var ErrNotFound = errors.New("not found")
