// Package xmlconv rewrites and inspects annotation XML documents without loading them into an annotation model
package xmlconv

import (
	"bufio"
	"io"
	"os"
	"path"
	"strings"
	"unicode"
)

// PureName strips the directory and every extension from an image name,
// so "dir/img_001.tar.jpg" becomes "img_001".
func PureName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	pure, _, _ := strings.Cut(base, ".")
	return pure
}

// ImageList maps the pure name of an image to its frame number.
// The frame number is the line number (from zero) in the image list file.
type ImageList map[string]int

// ReadImageList reads one pure image name per line
func ReadImageList(r io.Reader) (ImageList, error) {
	list := ImageList{}
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		name := strings.TrimRightFunc(scanner.Text(), unicode.IsSpace)
		list[name] = n
		n++
	}
	return list, scanner.Err()
}

func ReadImageListFile(filename string) (ImageList, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadImageList(f)
}

// WriteImageList writes names one per line, which is the format that ReadImageList reads
func WriteImageList(w io.Writer, names []string) error {
	bw := bufio.NewWriter(w)
	for _, n := range names {
		bw.WriteString(n)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
