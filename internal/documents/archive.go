package documents

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var ErrInvalidArchive = errors.New("not a valid zip archive")

const macOSMetadataDir = "__MACOSX"

// LoadArchive extracts every PDF entry of a ZIP archive. The identifier is
// the entry's leaf filename without the .pdf extension. Directory entries
// are ignored; other files are returned in skipped.
func LoadArchive(r io.ReaderAt, size int64) (*Collection, []string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	collection := NewCollection()
	var skipped []string
	for _, entry := range zr.File {
		name := entry.Name
		if strings.HasSuffix(name, "/") || entry.FileInfo().IsDir() {
			continue
		}
		if !isPDFEntry(name) {
			skipped = append(skipped, name)
			continue
		}
		content, err := readEntry(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: read %s: %v", ErrInvalidArchive, name, err)
		}
		leaf := path.Base(strings.ReplaceAll(name, "\\", "/"))
		collection.Add(Document{
			ID:      leaf[:len(leaf)-len(".pdf")],
			Content: content,
		})
	}
	return collection, skipped, nil
}

func isPDFEntry(name string) bool {
	if strings.HasPrefix(name, macOSMetadataDir) {
		return false
	}
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
