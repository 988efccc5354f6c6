package driven

// KeyValueStore is the host's durable string key/value storage.
// It plays the role a browser's localStorage plays for a web client:
// synchronous, small, and local. Implementations must be safe for
// concurrent use.
type KeyValueStore interface {
	// Get returns the value for key and whether it exists.
	Get(key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	// Returns domain.ErrQuotaExceeded when the store is full.
	Set(key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys returns every key starting with prefix, in no particular order.
	Keys(prefix string) ([]string, error)
}
