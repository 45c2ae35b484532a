package gcs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	name, err := objectName("archives", "/raw/olx/job.json")
	require.NoError(t, err)
	require.Equal(t, "archives/raw/olx/job.json", name)

	name, err = objectName("", "raw/olx/job.json")
	require.NoError(t, err)
	require.Equal(t, "raw/olx/job.json", name)

	_, err = objectName("archives", " ")
	require.Error(t, err)
}
