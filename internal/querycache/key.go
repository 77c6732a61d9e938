package querycache

import (
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached read: a resource name plus scoping parameters
// such as a user id or a filter set.
type Key struct {
	Resource string
	Params   map[string]string
}

// K builds a key from a resource and alternating param names and values.
// A trailing name without value is ignored.
func K(resource string, kv ...string) Key {
	key := Key{Resource: resource}
	for i := 0; i+1 < len(kv); i += 2 {
		if key.Params == nil {
			key.Params = make(map[string]string, len(kv)/2)
		}
		key.Params[kv[i]] = kv[i+1]
	}
	return key
}

// String is the canonical form used as the storage id: "resource" or
// "resource?a=1&b=2" with params sorted.
func (k Key) String() string {
	if len(k.Params) == 0 {
		return k.Resource
	}

	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(k.Resource)
	b.WriteByte('?')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(k.Params[name]))
	}
	return b.String()
}

// Matches reports whether other falls under k used as a prefix: same
// resource and every param of k present in other with the same value.
func (k Key) Matches(other Key) bool {
	if k.Resource != other.Resource {
		return false
	}
	for name, value := range k.Params {
		if v, ok := other.Params[name]; !ok || v != value {
			return false
		}
	}
	return true
}

// Param returns the value of a scoping param.
func (k Key) Param(name string) string {
	return k.Params[name]
}
