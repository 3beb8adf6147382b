package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
	assert.Equal(t, got, h.Sum("hello world"))
}

func TestHasherDistinguishesWhitespace(t *testing.T) {
	t.Parallel()

	h := New()
	if h.Sum("hello world") == h.Sum("hello  world") {
		t.Fatal("expected texts differing only in whitespace to hash differently")
	}
}
