package archivereader

import (
	"io"

	"github.com/nwaples/rardecode/v2"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// rarIterator wraps rardecode's forward-only reader: unlike zip/7z there is
// no random-access Open by name, so each Entry's open func simply returns
// the shared reader positioned at the current header. Callers must fully
// read (or discard) an entry before calling Next again.
type rarIterator struct {
	archivePath string
	reader      *rardecode.ReadCloser
}

func newRarIterator(archivePath string) (*rarIterator, error) {
	r, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return nil, shared.NewDomainError(shared.ErrArchiveCorrupt, err.Error())
	}
	return &rarIterator{archivePath: archivePath, reader: r}, nil
}

func (it *rarIterator) Next() (Entry, bool, error) {
	header, err := it.reader.Next()
	if err == io.EOF {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, true, shared.NewDomainError(shared.ErrStreamTruncated, err.Error())
	}
	if header.IsDir {
		return it.Next()
	}

	size := header.UnPackedSize
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

func (it *rarIterator) Close() error {
	return it.reader.Close()
}
