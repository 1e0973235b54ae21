package jobs

import (
	"io"
	"time"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// nowFunc is overridable in tests that need deterministic timestamps.
var nowFunc = time.Now

// readAllLimited reads r fully, refusing anything beyond maxBytes with
// ErrEntryTooLarge rather than letting a corrupt size hint exhaust memory.
func readAllLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, shared.NewDomainError(shared.ErrStreamTruncated, err.Error())
	}
	if int64(len(data)) > maxBytes {
		return nil, shared.NewDomainError(shared.ErrEntryTooLarge, "entry exceeds maximum size")
	}
	return data, nil
}
