// Package archivereader enumerates image entries from a collection's
// backing directory or archive, lazily and in a single pass so a 1 000 000
// entry archive never has to fit in memory at once.
package archivereader

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// ContainerType identifies the container format a collection path refers to.
type ContainerType string

const (
	ContainerDirectory ContainerType = "Directory"
	ContainerZip       ContainerType = "Zip"
	ContainerSevenZip  ContainerType = "SevenZip"
	ContainerRar       ContainerType = "Rar"
	ContainerTar       ContainerType = "Tar"
)

// Per-4.A size caps. Archive members get a much larger allowance than
// loose files since a single archive commonly bundles an entire volume.
const (
	MaxArchiveEntryBytes int64 = 20 << 30 // 20 GB
	MaxLooseFileBytes    int64 = 500 << 20 // 500 MB
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
}

// Entry is one enumerated member of a collection's backing store.
type Entry struct {
	RelativePath  string // "<archive-path>#<inner-entry>" for archive members, literal '#'
	SizeHint      int64
	IsLikelyImage bool

	open func() (io.ReadCloser, error)
}

// Open acquires a byte stream for this entry. The returned ReadCloser must
// be closed by the caller on every exit path.
func (e Entry) Open() (io.ReadCloser, error) {
	if e.SizeHint > MaxArchiveEntryBytes {
		return nil, shared.NewDomainError(shared.ErrEntryTooLarge, "entry exceeds maximum size")
	}
	return e.open()
}

// Iterator yields Entry values one at a time. Next returns (Entry{}, false,
// nil) once exhausted. The iterator owns the underlying archive handle and
// must be closed exactly once.
type Iterator interface {
	Next() (Entry, bool, error)
	Close() error
}

// IsLikelyImage reports whether path's extension matches a known raster
// image format, the same heuristic the scan worker uses to separate real
// images from dummy archive entries (READMEs, nfo files, thumbs.db, …).
func IsLikelyImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// OpenEntry re-opens containerType at collectionPath and streams entries
// until relativePath matches, returning that entry's content. This is the
// single-entry counterpart to Enumerate used by the derivative-generation
// workers, which only ever need one member's bytes at a time; for Rar and
// Tar (forward-only formats, see their iterators) this is the only way to
// fetch an arbitrary entry, so Directory/Zip/SevenZip pay the same linear
// cost here for one consistent code path rather than a faster-but-divergent
// random-access branch.
func OpenEntry(collectionPath string, containerType ContainerType, relativePath string) (io.ReadCloser, error) {
	it, err := Enumerate(collectionPath, containerType)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	for {
		entry, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, shared.NewFieldError(shared.ErrNotFound, "relative_path", "entry not found: "+relativePath)
		}
		if entry.RelativePath != relativePath {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, err
		}
		// The deferred it.Close() above runs as soon as OpenEntry returns,
		// before the caller reads anything. Rar/Tar's Open wraps the
		// iterator's own reader directly and Zip/SevenZip member streams read
		// through the archive handle the iterator owns, so rc cannot outlive
		// the iterator. Read the entry fully into memory here instead.
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// Enumerate opens collectionPath as containerType and returns a lazy,
// single-pass, restartable (by calling Enumerate again) iterator over its
// entries. A container that cannot be opened or walked (e.g. a corrupt
// archive) surfaces ArchiveCorrupt from Enumerate itself, before any Next call.
func Enumerate(collectionPath string, containerType ContainerType) (Iterator, error) {
	switch containerType {
	case ContainerDirectory:
		return newDirectoryIterator(collectionPath)
	case ContainerZip:
		return newZipIterator(collectionPath)
	case ContainerSevenZip:
		return newSevenZipIterator(collectionPath)
	case ContainerRar:
		return newRarIterator(collectionPath)
	case ContainerTar:
		return newTarIterator(collectionPath)
	default:
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "container_type", "unknown container type: "+string(containerType))
	}
}
