package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashText returns a stable key for text content, used for embedding cache lookups.
func HashText(model, input string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + input))
	return hex.EncodeToString(sum[:])
}

func WordCount(text string) int {
	return len(strings.Fields(text))
}

func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
