package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"fabricsync/internal"
)

// Archive keeps every raw document a run parsed, addressed by content hash.
type Archive struct {
	dir string
}

func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// Store writes doc once and returns its path. Identical bytes share a file.
func (a *Archive) Store(doc internal.Document) (string, error) {
	hashBytes := sha256.Sum256(doc.Body)
	hash := hex.EncodeToString(hashBytes[:])

	dir := filepath.Join(a.dir, hash[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(doc.Name))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	rawPath := filepath.Join(dir, hash+ext)
	if _, err := os.Stat(rawPath); os.IsNotExist(err) {
		if err := os.WriteFile(rawPath, doc.Body, 0o644); err != nil {
			return "", err
		}
	}
	return rawPath, nil
}
