package iox

import (
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned by SafeJoin when a relative path would escape its root
var ErrUnsafePath = errors.New("path escapes root directory")

// WriteStreamToFile copies 'src' into a new file. If the copy fails, the file is removed.
// Parent directories are created as needed.
func WriteStreamToFile(dstFilename string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dstFilename), 0755); err != nil {
		return err
	}
	dstFile, err := os.Create(dstFilename)
	if err != nil {
		return err
	}
	_, err = io.Copy(dstFile, src)
	if closeErr := dstFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dstFilename)
		return err
	}
	return nil
}

// SafeJoin joins a slash-separated relative path onto 'root'.
// Absolute paths, and paths that climb above root (eg "../x" or "a/../../x"), are rejected.
func SafeJoin(root, rel string) (string, error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if rel == "" || strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", ErrUnsafePath
	}
	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrUnsafePath
	}
	full := filepath.Join(root, filepath.FromSlash(clean))
	r, err := filepath.Rel(root, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return full, nil
}
