package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/imageviewer/mediapipeline/internal/domain/collection"
	"github.com/imageviewer/mediapipeline/internal/domain/library"
)

// containerExtensions maps a recognized archive extension to the
// archivereader.ContainerType it should be scanned as. A bare directory has
// no extension and is handled separately.
var containerExtensions = map[string]collection.Type{
	".zip": collection.TypeZip,
	".cbz": collection.TypeZip,
	".7z":  collection.TypeSevenZip,
	".cb7": collection.TypeSevenZip,
	".rar": collection.TypeRar,
	".cbr": collection.TypeRar,
	".tar": collection.TypeTar,
}

// CreationLibraryStore is the Library Store surface the creation worker
// needs: confirm the target library exists before registering collections
// under it.
type CreationLibraryStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*library.Library, error)
}

// CreationCollectionStore is the Collection Store surface the creation
// worker needs: register one new collection row per discovered candidate.
type CreationCollectionStore interface {
	Create(ctx context.Context, c *collection.Collection) error
}

// CollectionCreationWorker expands one parentPath into collection
// candidates — immediate subfolders and recognized archive files — and
// registers each as a Collection (4.G worker #1 precursor: Collection
// Creation Worker, spec §4.G's "bulk onboarding" entry point).
type CollectionCreationWorker struct {
	libraries   CreationLibraryStore
	collections CreationCollectionStore
	enqueuer    Enqueuer
}

// NewCollectionCreationWorker constructs a CollectionCreationWorker.
func NewCollectionCreationWorker(libraries CreationLibraryStore, collections CreationCollectionStore, enqueuer Enqueuer) *CollectionCreationWorker {
	return &CollectionCreationWorker{libraries: libraries, collections: collections, enqueuer: enqueuer}
}

// ProcessTask handles one CollectionCreationPayload delivery.
func (w *CollectionCreationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload CollectionCreationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal collection creation payload: %w", err)
	}

	if _, err := w.libraries.GetByID(ctx, payload.LibraryID); err != nil {
		return fmt.Errorf("load target library: %w", err)
	}

	candidates, err := w.discoverCandidates(payload.ParentPath, payload.Prefix, payload.IncludeSubfolders)
	if err != nil {
		return fmt.Errorf("discover collection candidates under %s: %w", payload.ParentPath, err)
	}

	settings := collection.Settings{
		ThumbnailWidth:  payload.ThumbnailWidth,
		ThumbnailHeight: payload.ThumbnailHeight,
		CacheWidth:      payload.CacheWidth,
		CacheHeight:     payload.CacheHeight,
		Quality:         payload.Quality,
		EnableCache:     payload.EnableCache,
		AutoScan:        payload.AutoAdd,
		Format:          collection.Format(payload.Format),
	}

	for _, cand := range candidates {
		c, err := collection.New(payload.LibraryID, cand.name, cand.path, cand.typ, settings)
		if err != nil {
			return fmt.Errorf("build collection for %s: %w", cand.path, err)
		}
		if err := w.collections.Create(ctx, c); err != nil {
			return fmt.Errorf("persist collection for %s: %w", cand.path, err)
		}

		if !payload.AutoAdd {
			continue
		}
		scanTask, err := NewCollectionScanTask(CollectionScanPayload{CollectionID: c.ID})
		if err != nil {
			return fmt.Errorf("build scan task for %s: %w", cand.path, err)
		}
		if _, err := w.enqueuer.Enqueue(ctx, scanTask, QueueCollectionScan); err != nil {
			return fmt.Errorf("enqueue scan task for %s: %w", cand.path, err)
		}
	}
	return nil
}

type collectionCandidate struct {
	name string
	path string
	typ  collection.Type
}

// discoverCandidates walks parentPath one level deep (or recursively when
// includeSubfolders is set), classifying each child as either a directory
// collection or a recognized archive collection. Names are filtered by
// prefix when one is given.
func (w *CollectionCreationWorker) discoverCandidates(parentPath, prefix string, includeSubfolders bool) ([]collectionCandidate, error) {
	var candidates []collectionCandidate

	entries, err := os.ReadDir(parentPath)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		name := entry.Name()
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		fullPath := filepath.Join(parentPath, name)

		if entry.IsDir() {
			candidates = append(candidates, collectionCandidate{name: name, path: fullPath, typ: collection.TypeDirectory})
			if includeSubfolders {
				nested, err := w.discoverCandidates(fullPath, "", true)
				if err != nil {
					return nil, err
				}
				candidates = append(candidates, nested...)
			}
			continue
		}

		ext := strings.ToLower(filepath.Ext(name))
		typ, ok := containerExtensions[ext]
		if !ok {
			continue
		}
		candidates = append(candidates, collectionCandidate{
			name: strings.TrimSuffix(name, filepath.Ext(name)),
			path: fullPath,
			typ:  typ,
		})
	}
	return candidates, nil
}
