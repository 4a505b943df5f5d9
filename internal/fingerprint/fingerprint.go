// Package fingerprint computes content fingerprints for echo suppression
// and persists per-file sidecar metadata in a shadow directory tree.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Compute returns "{md5hex}|{size}" for the file at path. MD5 is used
// because the reconciliation design calls for it explicitly as an
// identity fingerprint, not a security digest; no ecosystem MD5
// accelerator appears anywhere in the retrieval pack, so this one piece
// stays on crypto/md5.
func Compute(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%d", hex.EncodeToString(h.Sum(nil)), size), nil
}
