package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryYAML = `
services:
  orders:
    - host: 10.0.0.5
      port: 8080
    - host: 10.0.0.6
      port: 8080
      secure: true
      metadata:
        zone: us-east-1a
  billing:
    - host: billing-1
      port: 9090
`

func writeRegistryFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "endpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFile_LoadsYAML(t *testing.T) {
	t.Parallel()

	path := writeRegistryFile(t, t.TempDir(), registryYAML)
	f, err := NewFile(path)
	require.NoError(t, err)
	defer f.Close()

	orders := f.Endpoints("orders")
	require.Len(t, orders, 2)
	assert.Equal(t, "10.0.0.5:8080", orders[0].Addr())
	assert.True(t, orders[1].Secure)
	assert.Equal(t, "us-east-1a", orders[1].Metadata["zone"])

	require.Len(t, f.Endpoints("billing"), 1)
	assert.Empty(t, f.Endpoints("missing"))
}

func TestFile_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestFile_InvalidYAML(t *testing.T) {
	t.Parallel()

	path := writeRegistryFile(t, t.TempDir(), "services: [not: a: map")
	_, err := NewFile(path)
	assert.Error(t, err)
}

func TestFile_ReloadsOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeRegistryFile(t, dir, registryYAML)
	f, err := NewFile(path)
	require.NoError(t, err)
	defer f.Close()

	updated := `
services:
  orders:
    - host: 10.0.0.7
      port: 8081
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		eps := f.Endpoints("orders")
		return len(eps) == 1 && eps[0].Addr() == "10.0.0.7:8081"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFile_KeepsSnapshotOnBadReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeRegistryFile(t, dir, registryYAML)
	f, err := NewFile(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, os.WriteFile(path, []byte("services: [broken"), 0o600))

	// The watcher sees the write; the previous snapshot must survive it.
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, f.Endpoints("orders"), 2)
}

func TestFile_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	path := writeRegistryFile(t, t.TempDir(), registryYAML)
	f, err := NewFile(path)
	require.NoError(t, err)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}
