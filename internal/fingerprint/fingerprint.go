// Package fingerprint computes the path-independent identity used to
// key cache entries: SHA-256 of "filename|size|mtime". It never reads
// file contents — only os.Stat metadata — so it stays cheap enough to
// run on every scan.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Fingerprint is the hex-encoded SHA-256 identity of a media file.
type Fingerprint string

// Of computes the Fingerprint for path by stat-ing it. The fingerprint
// is a pure function of the file's base name, byte size, and mtime —
// changing the directory a file lives in never changes its
// fingerprint, but changing any of the three inputs does.
func Of(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint: stat %s: %w", path, err)
	}
	return FromStat(filepath.Base(path), info.Size(), info.ModTime().UnixNano()), nil
}

// FromStat computes the Fingerprint directly from the three identity
// components, for callers that already have them (e.g. a directory
// walk that stat'd every entry once).
func FromStat(name string, size int64, mtimeNano int64) Fingerprint {
	mtime := float64(mtimeNano) / 1e9
	payload := fmt.Sprintf("%s|%d|%s", name, size, strconv.FormatFloat(mtime, 'f', -1, 64))
	sum := sha256.Sum256([]byte(payload))
	return Fingerprint(hex.EncodeToString(sum[:]))
}
