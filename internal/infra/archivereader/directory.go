package archivereader

import (
	"io"
	"os"
	"path/filepath"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// directoryIterator walks a plain filesystem directory tree depth-first.
type directoryIterator struct {
	root    string
	entries []directoryEntry
	pos     int
}

type directoryEntry struct {
	path string
	size int64
}

func newDirectoryIterator(root string) (*directoryIterator, error) {
	var entries []directoryEntry
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, directoryEntry{path: path, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, shared.NewDomainError(shared.ErrArchiveCorrupt, err.Error())
	}

	return &directoryIterator{root: root, entries: entries}, nil
}

func (it *directoryIterator) Next() (Entry, bool, error) {
	if it.pos >= len(it.entries) {
		return Entry{}, false, nil
	}
	e := it.entries[it.pos]
	it.pos++

	if e.size > MaxLooseFileBytes {
		return Entry{}, true, shared.NewDomainError(shared.ErrEntryTooLarge, e.path+" exceeds maximum loose file size")
	}

	path := e.path
	return Entry{
		RelativePath:  path,
		SizeHint:      e.size,
		IsLikelyImage: IsLikelyImage(path),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, true, nil
}

func (it *directoryIterator) Close() error { return nil }
