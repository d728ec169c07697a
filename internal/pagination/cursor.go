// Package pagination provides opaque cursor pagination for history listings.
package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// ErrInvalidCursor is returned when a cursor string cannot be decoded.
// Callers surface it as a bad-request, never as an internal error.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor marks a position in a result set ordered by (created_at DESC, id).
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode returns an opaque cursor string for the row key.
func Encode(createdAt time.Time, id string) string {
	raw := id + " " + createdAt.UTC().Format(time.RFC3339Nano)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	id, ts, ok := strings.Cut(string(raw), " ")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}

// ComputePage trims a slice fetched with limit+1 rows down to the page and
// derives the next cursor from its last item. The third return reports
// whether more rows exist past this page.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	page := items[:limit]
	createdAt, id := key(page[limit-1])
	return page, Encode(createdAt, id), true
}
