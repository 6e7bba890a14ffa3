package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/panyam/campusauth/internal/fileutil"
)

// writeAtomicFile creates the record's directory and replaces the file
func writeAtomicFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, data, 0600)
}

// readJSONFile decodes path into out. found is false if the file does not exist.
func readJSONFile(path string, out any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("corrupt record %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// fileKey turns an arbitrary key (emails, provider subjects) into a safe filename
func fileKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16])
}

// idKey keeps ids readable but prevents path traversal
func idKey(id string) string {
	return filepath.Base(filepath.Clean("/" + id))
}
