package cache

import (
	"encoding/json"
	"fmt"
)

// Key identifies a cached query: an entity name followed by its parameters,
// e.g. Key{"report", "123"}.
type Key []string

// K builds a key, formatting each part with fmt.Sprint.
func K(parts ...any) Key {
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = fmt.Sprint(p)
	}
	return k
}

// String is an unambiguous encoding used as the map and singleflight key.
func (k Key) String() string {
	data, _ := json.Marshal([]string(k))
	return string(data)
}

// HasPrefix reports whether k starts with every element of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
