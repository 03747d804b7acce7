package sha256

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHasherHashFileEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	got, err := New().HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", got)
}

func TestHasherHashFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "1.pdf")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	got, err := New().HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, helloDigest, got)

	_, err = New().HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
