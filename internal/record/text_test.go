package record

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))

	// "é" is two bytes; byte 4 is the middle of the second one.
	got := Truncate("aéé", 4)
	assert.Equal(t, "aé...", got)
	assert.True(t, utf8.ValidString(got))

	long := strings.Repeat("日本", 100)
	got = Truncate(long, 200)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 203)
}
