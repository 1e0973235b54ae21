package archivereader

import (
	"io"

	"github.com/bodgit/sevenzip"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

type sevenZipIterator struct {
	archivePath string
	reader      *sevenzip.ReadCloser
	pos         int
}

func newSevenZipIterator(archivePath string) (*sevenZipIterator, error) {
	r, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return nil, shared.NewDomainError(shared.ErrArchiveCorrupt, err.Error())
	}
	return &sevenZipIterator{archivePath: archivePath, reader: r}, nil
}

func (it *sevenZipIterator) Next() (Entry, bool, error) {
	if it.pos >= len(it.reader.File) {
		return Entry{}, false, nil
	}
	f := it.reader.File[it.pos]
	it.pos++
	if f.FileInfo().IsDir() {
		return it.Next()
	}

	size := int64(f.UncompressedSize)
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

func (it *sevenZipIterator) Close() error {
	return it.reader.Close()
}
