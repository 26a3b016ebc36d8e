package store

import "github.com/sectorsim/tradesim/internal/domain"

// FindByID scans collection for the record whose id (via getID) matches id,
// returning domain.NotFoundError when absent.
func FindByID[T any](s *Store, collection string, id string, getID func(*T) string) (*T, error) {
	items, err := ReadCollection[T](s, collection)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if getID(&items[i]) == id {
			return &items[i], nil
		}
	}
	return nil, domain.NotFoundError("id", "no record "+id+" in "+collection)
}

// UpdateByID loads collection, locates id, and applies mutator to it
// in-place before writing the collection back atomically. Returns
// domain.NotFoundError if id is absent.
func UpdateByID[T any](s *Store, collection string, id string, getID func(*T) string, mutator func(*T) error) error {
	return AtomicUpdate(s, collection, func(items []T) ([]T, error) {
		for i := range items {
			if getID(&items[i]) == id {
				if err := mutator(&items[i]); err != nil {
					return nil, err
				}
				return items, nil
			}
		}
		return nil, domain.NotFoundError("id", "no record "+id+" in "+collection)
	})
}

// InsertUnique appends entry to collection, rejecting a duplicate id.
func InsertUnique[T any](s *Store, collection string, entry T, getID func(*T) string) error {
	return AtomicUpdate(s, collection, func(items []T) ([]T, error) {
		id := getID(&entry)
		for i := range items {
			if getID(&items[i]) == id {
				return nil, domain.ValidationError("id", "duplicate id "+id+" in "+collection)
			}
		}
		return append(items, entry), nil
	})
}
