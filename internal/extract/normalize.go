package extract

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// JoinFragments concatenates recognized text fragments with single spaces,
// preserving their order. Each fragment is NFKC-normalized first so that
// full-width digits and compatibility forms printed on some receipts match
// the ASCII rule grammars.
func JoinFragments(fragments []string) string {
	parts := make([]string, len(fragments))
	for i, f := range fragments {
		parts[i] = norm.NFKC.String(f)
	}
	return strings.Join(parts, " ")
}
