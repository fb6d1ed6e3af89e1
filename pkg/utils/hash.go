package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// NormalizePlace canonicalizes a free-text place name for cache keying:
// lowercased, single-spaced, trimmed.
func NormalizePlace(place string) string {
	return strings.Join(strings.Fields(strings.ToLower(place)), " ")
}
