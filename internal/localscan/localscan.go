// Package localscan enumerates the local mirror tree for a project.
package localscan

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/vaultsync/vaultsync/internal/pathutil"
)

// Entry is one file observed under a project root.
type Entry struct {
	LastModified time.Time
}

// Scan recursively enumerates every regular file under root, skipping
// ignored basenames, the sidecar shadow directory, and symlinks (which
// are never followed). Keys are forward-slash relative paths.
func Scan(root string) (map[string]Entry, error) {
	out := map[string]Entry{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".sync" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if pathutil.IsIgnored(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := string(pathutil.NewRelKey(filepath.ToSlash(rel)))
		out[key] = Entry{LastModified: info.ModTime().UTC()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
