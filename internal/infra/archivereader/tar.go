package archivereader

import (
	"archive/tar"
	"io"
	"os"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// tarIterator is forward-only like rarIterator: tar has no directory of
// entries upfront, only a sequential header stream.
type tarIterator struct {
	archivePath string
	file        *os.File
	reader      *tar.Reader
}

func newTarIterator(archivePath string) (*tarIterator, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, shared.NewDomainError(shared.ErrArchiveCorrupt, err.Error())
	}
	return &tarIterator{archivePath: archivePath, file: f, reader: tar.NewReader(f)}, nil
}

func (it *tarIterator) Next() (Entry, bool, error) {
	header, err := it.reader.Next()
	if err == io.EOF {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, true, shared.NewDomainError(shared.ErrStreamTruncated, err.Error())
	}
	if header.Typeflag == tar.TypeDir {
		return it.Next()
	}

	size := header.Size
	if size > MaxArchiveEntryBytes {
		return Entry{}, true, shared.NewDomainError(shared.ErrEntryTooLarge, header.Name+" exceeds maximum archive entry size")
	}

	relPath := it.archivePath + "#" + header.Name
	reader := it.reader
	return Entry{
		RelativePath:  relPath,
		SizeHint:      size,
		IsLikelyImage: IsLikelyImage(header.Name),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(reader), nil
		},
	}, true, nil
}

func (it *tarIterator) Close() error {
	return it.file.Close()
}
