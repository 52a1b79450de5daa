// Package pagination implements opaque cursor pagination over ordered
// in-memory collections, used by session listing.
package pagination

import (
	"encoding/base64"

	acperrors "github.com/acpkit/acp-go/pkg/errors"
)

const (
	// DefaultLimit applies when the caller asks for no particular page
	// size.
	DefaultLimit = 50
	// MaxLimit caps any requested page size.
	MaxLimit = 200
)

// EncodeCursor produces an opaque cursor pointing after the given key.
func EncodeCursor(lastKey string) string {
	return base64.URLEncoding.EncodeToString([]byte(lastKey))
}

// DecodeCursor recovers the key a cursor points after.
func DecodeCursor(cursor string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", acperrors.InvalidParameter("cursor", cursor, "opaque cursor from a previous page")
	}
	return string(raw), nil
}

// ClampLimit normalizes a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Page slices one page out of items, which must already be ordered by
// key. The second return is the cursor for the next page, empty on the
// last page.
func Page[T any](items []T, cursor string, limit int, key func(T) string) ([]T, string, error) {
	limit = ClampLimit(limit)

	start := 0
	if cursor != "" {
		after, err := DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		for i, item := range items {
			if key(item) > after {
				start = i
				break
			}
			start = i + 1
		}
	}
	if start >= len(items) {
		return []T{}, "", nil
	}

	end := start + limit
	if end >= len(items) {
		return items[start:], "", nil
	}
	return items[start:end], EncodeCursor(key(items[end-1])), nil
}
