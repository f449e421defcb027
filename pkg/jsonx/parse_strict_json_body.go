// Package jsonx decodes JSON request bodies with tight shape checks.
package jsonx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes caps the request body read by ParseStrictJSONBody.
const MaxBodyBytes = 1 << 20

var (
	ErrEmptyBody    = errors.New("empty body")
	ErrTrailingJSON = errors.New("trailing data")
	ErrBodyTooLarge = errors.New("body too large")
)

// ParseStrictJSONBody reads and strictly decodes a JSON HTTP request body into dst.
//
// Rejected (map to 400 Bad Request):
//   - malformed or truncated JSON
//   - empty body (ErrEmptyBody)
//   - body over MaxBodyBytes (ErrBodyTooLarge)
//   - more than one JSON value (ErrTrailingJSON)
//   - unknown fields and field-type mismatches
//
// Presence of required fields and business rules are left to the caller.
func ParseStrictJSONBody[T any](r *http.Request, dst *T) error {
	if r == nil || r.Body == nil {
		return ErrEmptyBody
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxBodyBytes {
		return ErrBodyTooLarge
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ErrEmptyBody
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ErrTrailingJSON
	}
	return nil
}
