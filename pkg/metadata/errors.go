package metadata

import "errors"

// Sentinel errors for registry lookups
var (
	// ErrMetadataMissing is returned when an entity, named graph or attribute path
	// does not resolve against the registry
	ErrMetadataMissing = errors.New("metadata missing")

	// ErrRegistryFrozen is returned when registering after Freeze
	ErrRegistryFrozen = errors.New("metadata registry is frozen")

	// ErrInvalidDescriptor is returned for malformed entity or association descriptors
	ErrInvalidDescriptor = errors.New("invalid entity descriptor")
)

// IsMetadataMissing checks if an error is ErrMetadataMissing
func IsMetadataMissing(err error) bool {
	return errors.Is(err, ErrMetadataMissing)
}
