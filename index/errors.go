package index

import (
	"errors"
	"strings"
)

// Service errors. Backends wrap these so the Manager can tell an absent
// index from a broken connection.
var (
	// ErrNotFound indicates the index does not exist.
	ErrNotFound = errors.New("index not found")

	// ErrNotReady indicates the index exists but cannot serve requests yet.
	ErrNotReady = errors.New("index not ready")

	// ErrAlreadyExists indicates a create request named an existing index.
	ErrAlreadyExists = errors.New("index already exists")

	// ErrSourceRequired rejects a delete without a source identifier.
	ErrSourceRequired = errors.New("source identifier is required")
)

// IsNotFound reports whether err means the index is absent.
// Besides ErrNotFound it accepts errors mentioning "404" or "not found",
// which is how some services surface a missing index.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}

// IsAlreadyExists reports whether err means the index was created concurrently.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAlreadyExists) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "409") || strings.Contains(msg, "already exists")
}
