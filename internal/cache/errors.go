package cache

import "errors"

// ErrNotFound marks a missing cache record, wrapped with context by the
// accessor that hit it.
var ErrNotFound = errors.New("cache record not found")
