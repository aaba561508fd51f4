package scrape

// Fields is a string mapping that remembers key insertion order. Page tables
// decide the key set, so the schema is open.
type Fields struct {
	keys   []string
	values map[string]string
}

// NewFields returns an empty mapping.
func NewFields() Fields {
	return Fields{values: make(map[string]string)}
}

// Set stores value under key. An existing key keeps its original position.
func (f *Fields) Set(key, value string) {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Get returns the value stored under key.
func (f Fields) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (f Fields) Keys() []string {
	return append([]string(nil), f.keys...)
}

// Len returns the number of keys.
func (f Fields) Len() int {
	return len(f.keys)
}

// Clone returns an independent copy.
func (f Fields) Clone() Fields {
	out := Fields{
		keys:   append([]string(nil), f.keys...),
		values: make(map[string]string, len(f.values)),
	}
	for k, v := range f.values {
		out.values[k] = v
	}
	return out
}
