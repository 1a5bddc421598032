// Package hooks defines lightweight callbacks for high-signal engine events.
package hooks

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// ValueEvicted is invoked from the runtime cleanup goroutine.
type Hooks interface {
	// A weakly tracked value was collected and its identity link dropped.
	ValueEvicted(identityKey string)

	// A plugin failed to serialize a value and the default plugin was tried.
	SerializationFallback(typeName, plugin string, err error)

	// A value could not be persisted at all and stays online only.
	PersistSkipped(identityKey string, err error)

	// A value was placed in an external file.
	ExternalWritten(path string, size int64)

	// A superseded external file was renamed to its .unlinked form.
	CachedValueUnlinked(path string)

	// Register rejected a live value already linked to another identity.
	AliasingRejected(existingKey, requestedKey string)
}

// Nop is the default no-op
type Nop struct{}

func (Nop) ValueEvicted(string)                        {}
func (Nop) SerializationFallback(string, string, error) {}
func (Nop) PersistSkipped(string, error)               {}
func (Nop) ExternalWritten(string, int64)              {}
func (Nop) CachedValueUnlinked(string)                 {}
func (Nop) AliasingRejected(string, string)            {}

// OrNop returns h, or Nop when h is nil.
func OrNop(h Hooks) Hooks {
	if h == nil {
		return Nop{}
	}
	return h
}
