package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// CreateTempDBPath returns a path for a fresh database file named name
// inside a new temporary directory, and a cleanup function that removes it.
func CreateTempDBPath(t *testing.T, name string) (string, func()) {
	tmpDir, err := os.MkdirTemp("", "omegamem_test")
	require.NoError(t, err)

	cleanup := func() {
		os.RemoveAll(tmpDir)
	}
	return filepath.Join(tmpDir, name), cleanup
}
