package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicateMemo is returned when a deal insert collides on the unique
// memo index. Callers regenerate the memo and retry.
var ErrDuplicateMemo = errors.New("storage: duplicate memo")
