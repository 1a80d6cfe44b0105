package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteMedia creates a stand-in media file of size bytes at path, creating
// parent directories, and returns its contents. The byte pattern does not
// repeat on power-of-two boundaries so truncated or misaligned copies fail
// comparison. A size <= 0 writes a single byte.
func WriteMedia(t testing.TB, path string, size int) []byte {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return data
}
