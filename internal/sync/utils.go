package sync

import (
	"os"
	"path/filepath"
	"strings"
)

// resolveLocalCase maps a lower-cased remote folder path onto the
// actual on-disk casing under root, one segment at a time. Segments
// with no case-insensitive match are appended as given.
func resolveLocalCase(root, folder string) string {
	cur := root
	for _, seg := range strings.Split(strings.Trim(folder, "/"), "/") {
		if seg == "" {
			continue
		}
		matched := seg
		if entries, err := os.ReadDir(cur); err == nil {
			for _, e := range entries {
				if strings.EqualFold(e.Name(), seg) {
					matched = e.Name()
					break
				}
			}
		}
		cur = filepath.Join(cur, matched)
	}
	return cur
}
