package fetch

import "errors"

// Sentinel errors raised while building or driving a plan
var (
	// ErrUnsafePagination is returned when LIMIT/OFFSET is combined with a
	// to-many join fetch; row expansion would page over rows, not roots
	ErrUnsafePagination = errors.New("pagination combined with a to-many join fetch")

	// ErrCartesianFetch is returned when two independent to-many associations
	// would be joined in one statement
	ErrCartesianFetch = errors.New("cartesian fetch of independent collections")

	// ErrUnsupportedAssociation is returned for associations the resolver cannot join or load
	ErrUnsupportedAssociation = errors.New("unsupported association")

	// ErrInvalidQuery is returned for malformed query text or query fields
	ErrInvalidQuery = errors.New("invalid query")

	// ErrPlanImmutable is returned when binding or executing a materialized plan
	ErrPlanImmutable = errors.New("plan already materialized")

	// ErrPlanState is returned for out-of-order plan transitions
	ErrPlanState = errors.New("invalid plan state transition")
)

// IsUnsafePagination checks if an error is ErrUnsafePagination
func IsUnsafePagination(err error) bool {
	return errors.Is(err, ErrUnsafePagination)
}

// IsCartesianFetch checks if an error is ErrCartesianFetch
func IsCartesianFetch(err error) bool {
	return errors.Is(err, ErrCartesianFetch)
}
