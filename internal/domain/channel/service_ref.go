package channel

import (
	"fmt"
	"strings"
)

// ServiceRef identifies one engine service as "<base>-<suffix>", e.g. "engine-007".
// The suffix is the text after the first '-' and identifies the channel.
type ServiceRef struct {
	Base   string
	Suffix string
}

// ParseServiceRef splits raw at the first '-'. Both halves must be non-empty.
func ParseServiceRef(raw string) (ServiceRef, error) {
	raw = strings.TrimSpace(raw)
	base, suffix, ok := strings.Cut(raw, "-")
	if !ok || base == "" || suffix == "" {
		return ServiceRef{}, fmt.Errorf("%w: service ref %q: want <base>-<suffix>", ErrParse, raw)
	}
	if strings.ContainsAny(raw, `/\`) {
		return ServiceRef{}, fmt.Errorf("%w: service ref %q: path separator not allowed", ErrParse, raw)
	}
	return ServiceRef{Base: base, Suffix: suffix}, nil
}

// String returns "<base>-<suffix>".
func (r ServiceRef) String() string { return r.Base + "-" + r.Suffix }

// WithSuffix returns a ref sharing r's base.
func (r ServiceRef) WithSuffix(suffix string) ServiceRef {
	return ServiceRef{Base: r.Base, Suffix: suffix}
}

// Key is the normalized form used for locking and uniqueness checks.
func (r ServiceRef) Key() string { return strings.ToLower(r.String()) }

// Number returns the suffix without zero padding ("007" -> "7").
// Non-numeric suffixes are returned unchanged.
func (r ServiceRef) Number() string { return trimZeroPadding(r.Suffix) }

// SuffixFromStem returns the text after the first '-' of a file stem
// ("channel-7" -> "7", "ffplayout-002" -> "002").
func SuffixFromStem(stem string) (string, error) {
	_, suffix, ok := strings.Cut(stem, "-")
	if !ok || suffix == "" {
		return "", fmt.Errorf("%w: config name %q: want <name>-<suffix>", ErrParse, stem)
	}
	return suffix, nil
}

func trimZeroPadding(s string) string {
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	t := strings.TrimLeft(s, "0")
	if t == "" {
		return "0"
	}
	return t
}
