package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// StableID computes LibraryItem.id = stable_hash(canonical_file_path). The
// same path always yields the same id across re-ingests, regardless of
// working directory or path separators, so external references (chat
// history citations, graph edges) survive a re-ingest.
func StableID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(filepath.ToSlash(abs)))
	return hex.EncodeToString(sum[:]), nil
}
