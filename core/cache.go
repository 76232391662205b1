package core

import "context"

// Query cache groups
const (
	CacheGroupReservations = "reservations"
	CacheGroupStudents     = "students"
	CacheGroupAdmissions   = "admissions"
)

// QueryCache caches backend reads by group so a whole group can be invalidated after a write.
type QueryCache interface {
	// Get decodes the cached value into dest and reports whether it was found.
	Get(ctx context.Context, group, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, group, key string, value interface{}) error
	InvalidateGroups(ctx context.Context, groups ...string) error
}

// Locker serializes mutating operations on one resource across service instances.
type Locker interface {
	// Obtain returns ErrLocked when the key is already held.
	Obtain(ctx context.Context, key string) (unlock func(), err error)
}
