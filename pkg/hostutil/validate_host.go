// Package hostutil validates host parts of operator supplied URLs.
package hostutil

import (
	"fmt"
	"net"
	"strings"
	"unicode"
)

// ValidateHost accepts an IPv4 literal, a bracketed or bare IPv6 literal,
// or an RFC 1123 hostname. A port must already be stripped.
func ValidateHost(raw string) error {
	switch {
	case raw == "":
		return fmt.Errorf("empty host")
	case looksLikeIPv4(raw):
		if ip := net.ParseIP(raw); ip == nil || ip.To4() == nil {
			return fmt.Errorf("bad IP: '%s'", raw)
		}
	case strings.Contains(raw, ":"):
		ip := net.ParseIP(strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]"))
		if ip == nil || ip.To4() != nil {
			return fmt.Errorf("bad IPv6: '%s'", raw)
		}
	default:
		if !validHostname(raw) {
			return fmt.Errorf("bad hostname: '%s'", raw)
		}
	}
	return nil
}

// ValidateInterfaceName checks a network interface name the way the Linux
// kernel does (IFNAMSIZ, no slash, no whitespace).
func ValidateInterfaceName(name string) error {
	if name == "" || len(name) > 15 || name == "." || name == ".." {
		return fmt.Errorf("bad interface name: '%s'", name)
	}
	for _, r := range name {
		if r == '/' || r == ':' || unicode.IsSpace(r) || r > unicode.MaxASCII {
			return fmt.Errorf("bad interface name: '%s'", name)
		}
	}
	return nil
}

// looksLikeIPv4 reports whether raw is a dotted quad of digits.
func looksLikeIPv4(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return false
			}
		}
	}
	return true
}

// validHostname checks DNS label rules (RFC 1123).
func validHostname(raw string) bool {
	if len(raw) > 253 {
		return false
	}
	for label := range strings.SplitSeq(strings.TrimSuffix(raw, "."), ".") {
		if len(label) < 1 || len(label) > 63 {
			return false
		}
		for i, r := range label {
			if !(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) || r == '-') {
				return false
			}
			if (i == 0 || i == len(label)-1) && r == '-' {
				return false
			}
		}
	}
	return true
}
