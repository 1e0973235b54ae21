package archivereader

import (
	"archive/zip"
	"io"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

type zipIterator struct {
	archivePath string
	reader      *zip.ReadCloser
	pos         int
}

func newZipIterator(archivePath string) (*zipIterator, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, shared.NewDomainError(shared.ErrArchiveCorrupt, err.Error())
	}
	return &zipIterator{archivePath: archivePath, reader: r}, nil
}

func (it *zipIterator) Next() (Entry, bool, error) {
	if it.pos >= len(it.reader.File) {
		return Entry{}, false, nil
	}
	f := it.reader.File[it.pos]
	it.pos++
	if f.FileInfo().IsDir() {
		return it.Next()
	}

	size := int64(f.UncompressedSize64)
	if size > MaxArchiveEntryBytes {
		return Entry{}, true, shared.NewDomainError(shared.ErrEntryTooLarge, f.Name+" exceeds maximum archive entry size")
	}

	relPath := it.archivePath + "#" + f.Name
	return Entry{
		RelativePath:  relPath,
		SizeHint:      size,
		IsLikelyImage: IsLikelyImage(f.Name),
		open: func() (io.ReadCloser, error) {
			rc, err := f.Open()
			if err != nil {
				return nil, shared.NewDomainError(shared.ErrStreamTruncated, err.Error())
			}
			return rc, nil
		},
	}, true, nil
}

func (it *zipIterator) Close() error {
	return it.reader.Close()
}
