// Package domain defines the core entities of the fhirsync sync core.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Resource: An opaque FHIR-like record with a resourceType and id
//   - CacheEntry: The envelope stored for every cached value
//   - PendingOperation: A mutation awaiting replay against the server
//   - ConnectionState: Whether the remote service can be reached
//   - CategorizedError: A failure normalised into the error taxonomy
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
