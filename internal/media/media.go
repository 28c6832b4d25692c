// Package media decides which files can be queued for transcription.
// Detection uses magic bytes, not file extensions.
package media

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// extraMediaTypes are containers that may carry audio but are not reported
// under an audio/ or video/ type.
var extraMediaTypes = map[string]bool{
	"application/ogg": true,
}

// Detect returns the MIME type of the file at path.
func Detect(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect %s: %w", path, err)
	}
	return mt.String(), nil
}

// IsMedia reports whether path is a regular file holding audio or video.
func IsMedia(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	for m := mt; m != nil; m = m.Parent() {
		if isMediaType(m.String()) {
			return true
		}
	}
	return false
}

func isMediaType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/") ||
		strings.HasPrefix(mimeType, "video/") ||
		extraMediaTypes[mimeType]
}

// Filter splits paths into media files and everything else, keeping order.
func Filter(paths []string) (accepted, rejected []string) {
	for _, path := range paths {
		if IsMedia(path) {
			accepted = append(accepted, path)
		} else {
			rejected = append(rejected, path)
		}
	}
	return accepted, rejected
}

// Discover walks root and returns every media file below it in lexical order.
func Discover(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsMedia(path) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(found)
	return found, nil
}

// Expand replaces directories in paths with the media files they contain.
// Plain files pass through unchanged.
func Expand(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.IsDir() {
			out = append(out, path)
			continue
		}
		found, err := Discover(path)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}
