package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte(`[{"make":"Toyota"}]`))
	require.NoError(t, err)
	require.Len(t, got, 64)

	again, err := h.Hash([]byte(`[{"make":"Toyota"}]`))
	require.NoError(t, err)
	require.Equal(t, got, again)

	other, err := h.Hash([]byte(`[{"make":"Honda"}]`))
	require.NoError(t, err)
	require.NotEqual(t, got, other)
}

func TestHasherKnownDigest(t *testing.T) {
	t.Parallel()

	got, err := New().Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)

	short, err := NewTruncated(12).Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d", short)

	full, err := NewTruncated(100).Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, full)
}
