package cache

import "time"

// Envelope is the cached snapshot of an entire backing collection, stored
// under a single well-known key and distinct from per-entity entries.
// Per-entity entries are always derived from an envelope in one populate
// step so the two views cannot diverge.
type Envelope[V any] struct {
	Items       map[string]V `msgpack:"items" json:"items"`
	PopulatedAt time.Time    `msgpack:"populatedAt" json:"populatedAt"`
}

// NewEnvelope stamps items with the current population time.
func NewEnvelope[V any](items map[string]V) Envelope[V] {
	return Envelope[V]{Items: items, PopulatedAt: time.Now().UTC()}
}

// Lookup returns the snapshot's value for key.
func (e Envelope[V]) Lookup(key string) (V, bool) {
	v, ok := e.Items[key]
	return v, ok
}

// Age reports how long ago the snapshot was populated.
func (e Envelope[V]) Age() time.Duration {
	return time.Since(e.PopulatedAt)
}
