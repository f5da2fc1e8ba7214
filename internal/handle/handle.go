// Package handle defines the anonymous display-handle grammar: a fixed
// prefix followed by a zero-padded counter. Guest records are recognised by
// this grammar, so Format and Matches must agree exactly.
package handle

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// Prefix is shown to admins in place of a guest's name.
	Prefix = "Anonymous"
	// padWidth keeps early handles aligned (Anonymous001). Past 999 the
	// number keeps its natural width; handles never wrap back.
	padWidth = 3
)

// Format renders the handle for sequence value n.
func Format(n uint64) string {
	return fmt.Sprintf("%s%0*d", Prefix, padWidth, n)
}

// Parse extracts the sequence value from a handle. The second return is false
// when the string is not a well-formed handle.
func Parse(s string) (uint64, bool) {
	if !strings.HasPrefix(s, Prefix) {
		return 0, false
	}
	digits := s[len(Prefix):]
	if digits == "" {
		return 0, false
	}
	for _, ch := range digits {
		if ch < '0' || ch > '9' {
			return 0, false
		}
	}
	if len(digits) > padWidth && digits[0] == '0' {
		return 0, false
	}
	if len(digits) < padWidth {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	if Format(n) != s {
		return 0, false
	}
	return n, true
}

// Matches reports whether s is a well-formed anonymous handle.
func Matches(s string) bool {
	_, ok := Parse(s)
	return ok
}
