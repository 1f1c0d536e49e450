package store

import "errors"

// Error kinds shared by the content and gallery clients. Callers join them
// with the underlying cause and match with errors.Is.
var (
	ErrFetch    = errors.New("fetch failed")
	ErrWrite    = errors.New("write failed")
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
