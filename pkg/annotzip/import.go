package annotzip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/labelstore/pkg/annotation"
	"github.com/cyclopcam/labelstore/pkg/annotxml"
	"github.com/cyclopcam/labelstore/pkg/iox"
	"github.com/cyclopcam/logs"
	"github.com/klauspost/compress/zip"
)

// ErrUnsafeArchivePath is returned when an archive member would be extracted outside of the extraction directory
var ErrUnsafeArchivePath = errors.New("unsafe archive path")

// Import loads annotations from either a zip archive or a bare XML document.
// Every *.xml file inside an archive is loaded, in lexical path order.
func Import(ctx context.Context, log logs.Log, r io.ReaderAt, size int64, sink annotation.Sink) error {
	return walkDocuments(ctx, log, r, size, func(name string, doc io.Reader) error {
		if err := annotxml.Load(doc, sink); err != nil {
			if name != "" {
				return fmt.Errorf("%v: %w", name, err)
			}
			return err
		}
		return nil
	})
}

// ReadDocuments returns the annotation documents that Import would load, in the same order
func ReadDocuments(ctx context.Context, log logs.Log, r io.ReaderAt, size int64) ([][]byte, error) {
	docs := [][]byte{}
	err := walkDocuments(ctx, log, r, size, func(name string, doc io.Reader) error {
		b, err := io.ReadAll(doc)
		if err != nil {
			return err
		}
		docs = append(docs, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// walkDocuments calls fn for every annotation document in 'r'.
// If 'r' is not a zip archive, it is treated as a single XML document, and name is empty.
func walkDocuments(ctx context.Context, log logs.Log, r io.ReaderAt, size int64, fn func(name string, doc io.Reader) error) error {
	zr, err := zip.NewReader(r, size)
	if errors.Is(err, zip.ErrFormat) {
		log.Debugf("Reading plain XML document (%v bytes)", size)
		return fn("", io.NewSectionReader(r, 0, size))
	} else if err != nil && zr == nil {
		// A reader with an error means insecure member names, which extractAll reports
		return err
	}

	tempDir, err := os.MkdirTemp("", "annotimport-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tempDir)

	if err := extractAll(ctx, zr, tempDir); err != nil {
		return err
	}
	docs, err := findXML(tempDir)
	if err != nil {
		return err
	}
	log.Infof("Reading %v annotation documents from archive", len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, _ := filepath.Rel(tempDir, doc)
		if err := readFile(doc, filepath.ToSlash(rel), fn); err != nil {
			return err
		}
	}
	return nil
}

// ImportFile is Import from a file
func ImportFile(ctx context.Context, log logs.Log, filename string, sink annotation.Sink) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	return Import(ctx, log, f, st.Size(), sink)
}

// extractAll validates every member before writing anything, so a bad archive leaves nothing behind
func extractAll(ctx context.Context, zr *zip.Reader, dir string) error {
	targets := make([]string, len(zr.File))
	for i, f := range zr.File {
		target, err := iox.SafeJoin(dir, f.Name)
		if err != nil {
			return fmt.Errorf("%w: '%v'", ErrUnsafeArchivePath, f.Name)
		}
		if f.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: '%v' is a symlink", ErrUnsafeArchivePath, f.Name)
		}
		targets[i] = target
	}
	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(targets[i], 0755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, targets[i]); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %v in archive: %w", f.Name, err)
	}
	defer rc.Close()
	return iox.WriteStreamToFile(target, rc)
}

// IsAnnotationDocument reports whether an archive member is loaded as annotations
func IsAnnotationDocument(name string) bool {
	return strings.HasSuffix(name, ".xml")
}

func findXML(dir string) ([]string, error) {
	docs := []string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsAnnotationDocument(d.Name()) {
			docs = append(docs, p)
		}
		return nil
	})
	return docs, err
}

func readFile(filename, name string, fn func(name string, doc io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(name, f)
}
