// Package idgen provides record ID generators. Random is the default used
// when a resource declares no generator of its own; Ordered produces
// time-sortable IDs for resources that list newest-first.
package idgen

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Random returns a version 4 UUID string.
func Random() string {
	return uuid.New().String()
}

// Ordered returns a version 7 UUID string. IDs generated later sort after
// IDs generated earlier, so an index on id gives creation order for free.
func Ordered() string {
	uuidv7, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does
		panic(err)
	}
	return uuidv7.String()
}

// TimeFromOrdered extracts the creation time embedded in an Ordered ID.
func TimeFromOrdered(id string) (time.Time, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	// Top 48 bits carry the timestamp in milliseconds
	tsMillis := binary.BigEndian.Uint64(u[0:8]) >> 16
	return time.UnixMilli(int64(tsMillis)), nil
}
