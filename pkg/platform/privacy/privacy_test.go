package privacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactIdentifier(t *testing.T) {
	t.Run("long identifier keeps prefix and suffix only", func(t *testing.T) {
		got := RedactIdentifier("550e8400-e29b-41d4-a716-446655440000")
		assert.Equal(t, "550e…0000", got)
		assert.NotContains(t, got, "e29b")
	})

	t.Run("short identifier fully masked", func(t *testing.T) {
		assert.Equal(t, "********", RedactIdentifier("12345678"))
	})

	t.Run("empty stays empty", func(t *testing.T) {
		assert.Equal(t, "", RedactIdentifier(""))
	})
}

func TestAnonymizeIP(t *testing.T) {
	assert.Equal(t, "203.0.113.0", AnonymizeIP("203.0.113.42"))
	assert.Equal(t, "invalid", AnonymizeIP("not-an-ip"))

	v6 := AnonymizeIP("2001:db8:85a3:1:2:3:4:5")
	assert.True(t, strings.HasPrefix(v6, "2001:db8:85a3:"))
	assert.NotContains(t, v6, ":5")
}

func TestIPBucket(t *testing.T) {
	t.Run("same /24 shares a bucket", func(t *testing.T) {
		assert.Equal(t, IPBucket("203.0.113.42"), IPBucket("203.0.113.200"))
	})

	t.Run("different /24 differs", func(t *testing.T) {
		assert.NotEqual(t, IPBucket("203.0.113.42"), IPBucket("203.0.114.42"))
	})

	t.Run("unparseable input buckets to unknown", func(t *testing.T) {
		assert.Equal(t, "unknown", IPBucket(""))
	})
}
