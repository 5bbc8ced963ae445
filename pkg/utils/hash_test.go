package utils

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestHashText(t *testing.T) {
	a := HashText("text-embedding-3-small", "Tehran talks resume")
	b := HashText("text-embedding-3-small", "Tehran talks resume")
	c := HashText("text-embedding-3-large", "Tehran talks resume")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, 64, len(a))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount("   "))
	assert.Equal(t, 3, WordCount(" one\ttwo\nthree "))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "تهر", Truncate("تهران", 3))
}
