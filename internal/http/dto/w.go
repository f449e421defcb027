package dto

import "encoding/json"

// W is a generic field wrapper that distinguishes between
// an omitted property, an explicit null, and a concrete value.
//
// States:
//   - Omitted: Set=false, Null=false
//   - Explicit null: Set=true, Null=true
//   - Value present: Set=true, Null=false, V holds the value
type W[T any] struct {
	V    T
	Set  bool
	Null bool
}

func (o *W[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if len(b) == 4 && string(b) == "null" {
		o.Null = true
		return nil
	}
	return json.Unmarshal(b, &o.V)
}

// required returns the value of a non-nullable field that must be present.
func required(name string, f W[string]) (*string, error) {
	if !f.Set {
		return nil, missingField(name)
	}
	if f.Null {
		return nil, nullField(name)
	}
	return &f.V, nil
}

// nonNull returns the value of an optional, non-nullable field; nil when omitted.
func nonNull(name string, f W[string]) (*string, error) {
	if !f.Set {
		return nil, nil
	}
	if f.Null {
		return nil, nullField(name)
	}
	return &f.V, nil
}

// nullable returns the value of an optional field where null clears to "";
// nil when omitted.
func nullable(f W[string]) *string {
	if !f.Set {
		return nil
	}
	if f.Null {
		empty := ""
		return &empty
	}
	return &f.V
}

// orEmpty is nullable with omission treated like null.
func orEmpty(f W[string]) *string {
	if v := nullable(f); v != nil {
		return v
	}
	empty := ""
	return &empty
}
