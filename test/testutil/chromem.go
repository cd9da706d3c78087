package testutil

import (
	"path/filepath"
	"testing"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/require"
)

// CreateTempChromemGoClient creates a new, in-memory chromem-go instance
// suitable for isolated testing. The cleanup function is a no-op because
// the instance is garbage collected after the test.
func CreateTempChromemGoClient(t *testing.T) (*chromem.DB, func()) {
	client := chromem.NewDB()
	return client, func() {}
}

// CreateTempChromemGoClientOnDisk creates a persistent chromem-go instance
// in a per-test directory.
func CreateTempChromemGoClientOnDisk(t *testing.T) (*chromem.DB, string) {
	dir := filepath.Join(t.TempDir(), "chromem")
	client, err := chromem.NewPersistentDB(dir, false)
	require.NoError(t, err)
	return client, dir
}
