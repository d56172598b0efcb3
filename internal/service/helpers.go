package service

import "github.com/google/uuid"

func newID() string {
	return uuid.NewString()
}

// paginate slices items by offset and limit; a non-positive limit returns the remainder.
func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
