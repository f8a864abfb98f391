package storage

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BlobName derives a unique storage name for an uploaded file.
// The original base name is kept after a random prefix so stored files stay recognisable.
func BlobName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == 0:
			return '_'
		case r < 0x20:
			return -1
		}
		return r
	}, base)
	if base == "." || base == "" {
		base = "upload"
	}
	return uuid.NewString() + "_" + base
}
