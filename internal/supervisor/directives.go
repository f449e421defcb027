package supervisor

// Directive is one "key = value" line of a program section.
type Directive struct {
	Key   string
	Value string
}

// Directives keeps program directives in file order. Unknown keys are kept
// as-is so templates can carry options this package knows nothing about.
type Directives []Directive

// Get returns the value of key and whether it is present.
func (d Directives) Get(key string) (string, bool) {
	for _, kv := range d {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Set returns a copy of d with key set to value. An existing key keeps its
// position; a new key is appended.
func (d Directives) Set(key, value string) Directives {
	out := make(Directives, len(d), len(d)+1)
	copy(out, d)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Directive{Key: key, Value: value})
}

// Keys returns the directive keys in order.
func (d Directives) Keys() []string {
	keys := make([]string, len(d))
	for i, kv := range d {
		keys[i] = kv.Key
	}
	return keys
}
