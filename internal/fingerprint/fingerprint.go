// Package fingerprint identifies a (binary content, load base) pair so that
// static analysis results can be cached and safely reused.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultDir is where cache artifacts live.
const DefaultDir = "/tmp"

// Fingerprint is the SHA-256 of the file bytes followed by the 8-byte
// little-endian load base.
type Fingerprint [sha256.Size]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Compute fingerprints the file at path for the given load base.
func Compute(path string, loadBase uint64) (Fingerprint, error) {
	file, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	fp, err := FromReader(file, loadBase)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return fp, nil
}

// FromReader fingerprints the bytes read from r for the given load base.
func FromReader(r io.Reader, loadBase uint64) (Fingerprint, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Fingerprint{}, err
	}
	var base [8]byte
	binary.LittleEndian.PutUint64(base[:], loadBase)
	h.Write(base[:])

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp, nil
}

// CachePath names the branch-site cache artifact for fp inside dir.
func CachePath(dir string, fp Fingerprint) string {
	return filepath.Join(dir, fmt.Sprintf("branches_cache_%s.json", fp))
}
