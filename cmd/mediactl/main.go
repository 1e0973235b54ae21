// mediactl provides operator CLI tools for the media pipeline.
// Commands:
//   - bulk-add-collections: expand a parent path into collection candidates
//   - scan-collection: request a (re-)scan of one collection
//   - clear-queue: purge a broker queue of pending/scheduled/retry/archived tasks
//   - clear-cache: delete generated derivatives for one or all collections
//   - verify-collections: cross-check stored statistics against the embedded arrays
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imageviewer/mediapipeline/internal/config"
	"github.com/imageviewer/mediapipeline/internal/domain/collection"
	"github.com/imageviewer/mediapipeline/internal/domain/library"
	"github.com/imageviewer/mediapipeline/internal/infra/broker"
	"github.com/imageviewer/mediapipeline/internal/infra/postgres"
	"github.com/imageviewer/mediapipeline/internal/infra/storage"
	"github.com/imageviewer/mediapipeline/internal/jobs"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "bulk-add-collections":
		cmd := flag.NewFlagSet("bulk-add-collections", flag.ExitOnError)
		libraryID := cmd.String("library", "", "Library ID (existing library to add collections under)")
		libraryName := cmd.String("library-name", "", "Name for a new library, created if --library is not set")
		rootPath := cmd.String("root-path", "", "Root path for a new library (required with --library-name)")
		parentPath := cmd.String("parent-path", "", "Parent path to expand into collection candidates (required)")
		prefix := cmd.String("prefix", "", "Name prefix applied to discovered collections")
		includeSubfolders := cmd.Bool("include-subfolders", true, "Include subfolders as collection candidates")
		autoAdd := cmd.Bool("auto-add", true, "Automatically enqueue an initial scan for each discovered collection")
		enableCache := cmd.Bool("enable-cache", true, "Generate cache derivatives for discovered collections")
		if err := cmd.Parse(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		runBulkAddCollections(*libraryID, *libraryName, *rootPath, *parentPath, *prefix, *includeSubfolders, *autoAdd, *enableCache)

	case "scan-collection":
		cmd := flag.NewFlagSet("scan-collection", flag.ExitOnError)
		collectionID := cmd.String("collection", "", "Collection ID to scan (required)")
		force := cmd.Bool("force", false, "Force a full rescan, discarding existing embedded arrays first")
		if err := cmd.Parse(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		runScanCollection(*collectionID, *force)

	case "clear-queue":
		cmd := flag.NewFlagSet("clear-queue", flag.ExitOnError)
		queue := cmd.String("queue", "", "Queue name to purge (required)")
		if err := cmd.Parse(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		runClearQueue(*queue)

	case "clear-cache":
		cmd := flag.NewFlagSet("clear-cache", flag.ExitOnError)
		collectionID := cmd.String("collection", "", "Collection ID to clear (all active collections if unset)")
		dryRun := cmd.Bool("dry-run", true, "Preview changes without deleting (default: true)")
		execute := cmd.Bool("execute", false, "Actually delete derivative files and clear embedded arrays")
		if err := cmd.Parse(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		runClearCache(*collectionID, *dryRun && !*execute)

	case "verify-collections":
		cmd := flag.NewFlagSet("verify-collections", flag.ExitOnError)
		fix := cmd.Bool("fix", false, "Recalculate and persist statistics for every mismatch found")
		if err := cmd.Parse(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		runVerifyCollections(*fix)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`mediactl - media pipeline operator CLI

Usage:
  mediactl <command> [options]

Commands:
  bulk-add-collections   Expand a parent path into collection candidates
    --library             Existing library ID
    --library-name        Name for a new library (creates one if --library is unset)
    --root-path           Root path for a new library
    --parent-path         Parent path to expand (required)
    --prefix              Name prefix applied to discovered collections
    --include-subfolders  Include subfolders as candidates (default: true)
    --auto-add            Enqueue an initial scan per discovered collection (default: true)
    --enable-cache        Generate cache derivatives (default: true)

  scan-collection        Request a (re-)scan of one collection
    --collection          Collection ID (required)
    --force                Discard existing embedded arrays before rescanning

  clear-queue             Purge a broker queue
    --queue                Queue name (required)

  clear-cache             Delete generated derivatives
    --collection           Collection ID (all active collections if unset)
    --dry-run              Preview without deleting (default: true)
    --execute              Actually delete

  verify-collections      Cross-check stored statistics against embedded arrays
    --fix                  Persist corrected statistics for every mismatch

  help                    Show this help message

Environment:
  DATABASE_URL  PostgreSQL connection string
  REDIS_URL     Redis connection string for the broker`)
}

func getDBPool() *pgxpool.Pool {
	cfg := config.Load()
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	return pool
}

func getBroker() *broker.Adapter {
	cfg := config.Load()
	return broker.New(cfg.RedisURL)
}

func runBulkAddCollections(libraryIDStr, libraryName, rootPath, parentPath, prefix string, includeSubfolders, autoAdd, enableCache bool) {
	if parentPath == "" {
		log.Fatal("--parent-path is required")
	}

	ctx := context.Background()
	pool := getDBPool()
	defer pool.Close()

	libraries := postgres.NewLibraryRepository(pool)

	var libID uuid.UUID
	switch {
	case libraryIDStr != "":
		id, err := uuid.Parse(libraryIDStr)
		if err != nil {
			log.Fatalf("invalid --library: %v", err)
		}
		if _, err := libraries.GetByID(ctx, id); err != nil {
			log.Fatalf("library %s not found: %v", id, err)
		}
		libID = id
	case libraryName != "" && rootPath != "":
		lib, err := library.New(libraryName, rootPath, "")
		if err != nil {
			log.Fatalf("invalid library: %v", err)
		}
		if err := libraries.Create(ctx, lib); err != nil {
			log.Fatalf("failed to create library: %v", err)
		}
		libID = lib.ID
		fmt.Printf("Created library %s (%s)\n", lib.Name, lib.ID)
	default:
		log.Fatal("either --library or both --library-name and --root-path must be set")
	}

	// Operator-tunable derivative defaults come from the system_settings
	// table rather than process env vars, so a running deployment can be
	// retuned (thumbnail.width, derivative.quality, ...) without a restart.
	settingsRepo := postgres.NewSystemSettingsRepository(pool)
	settings, err := settingsRepo.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load system settings: %v", err)
	}
	defaults := settings.Resolve()

	b := getBroker()
	defer b.Close()

	payload := jobs.CollectionCreationPayload{
		ParentPath:        parentPath,
		Prefix:            prefix,
		IncludeSubfolders: includeSubfolders,
		AutoAdd:           autoAdd,
		LibraryID:         libID,
		ThumbnailWidth:    defaults.ThumbnailWidth,
		ThumbnailHeight:   defaults.ThumbnailHeight,
		CacheWidth:        defaults.CacheWidth,
		CacheHeight:       defaults.CacheHeight,
		Quality:           defaults.Quality,
		EnableCache:       enableCache,
		Format:            defaults.Format,
	}
	task, err := jobs.NewCollectionCreationTask(payload)
	if err != nil {
		log.Fatalf("failed to build task: %v", err)
	}
	if _, err := b.Enqueue(ctx, task, jobs.QueueCollectionCreation); err != nil {
		log.Fatalf("failed to enqueue collection creation: %v", err)
	}

	fmt.Printf("Enqueued collection-creation scan of %s under library %s\n", parentPath, libID)
}

func runScanCollection(collectionIDStr string, force bool) {
	if collectionIDStr == "" {
		log.Fatal("--collection is required")
	}
	collectionID, err := uuid.Parse(collectionIDStr)
	if err != nil {
		log.Fatalf("invalid --collection: %v", err)
	}

	ctx := context.Background()
	pool := getDBPool()
	defer pool.Close()

	collections := postgres.NewCollectionRepository(pool)
	if _, err := collections.GetByID(ctx, collectionID); err != nil {
		log.Fatalf("collection %s not found: %v", collectionID, err)
	}

	b := getBroker()
	defer b.Close()

	task, err := jobs.NewCollectionScanTask(jobs.CollectionScanPayload{
		CollectionID: collectionID,
		ForceRescan:  force,
	})
	if err != nil {
		log.Fatalf("failed to build task: %v", err)
	}
	if _, err := b.Enqueue(ctx, task, jobs.QueueCollectionScan); err != nil {
		log.Fatalf("failed to enqueue collection scan: %v", err)
	}

	fmt.Printf("Enqueued scan of collection %s (force=%v)\n", collectionID, force)
}

func runClearQueue(queue string) {
	if queue == "" {
		log.Fatal("--queue is required")
	}

	b := getBroker()
	defer b.Close()

	n, err := b.PurgeQueue(queue)
	if err != nil {
		log.Fatalf("failed to purge queue %s: %v", queue, err)
	}
	fmt.Printf("Purged %d task(s) from queue %s\n", n, queue)
}

func runClearCache(collectionIDStr string, dryRun bool) {
	ctx := context.Background()
	pool := getDBPool()
	defer pool.Close()

	collections := postgres.NewCollectionRepository(pool)
	libraries := postgres.NewLibraryRepository(pool)
	localStorage := storage.NewLocalStorage()

	var targets []*collection.Collection
	if collectionIDStr != "" {
		id, err := uuid.Parse(collectionIDStr)
		if err != nil {
			log.Fatalf("invalid --collection: %v", err)
		}
		c, err := collections.GetByID(ctx, id)
		if err != nil {
			log.Fatalf("collection %s not found: %v", id, err)
		}
		targets = append(targets, c)
	} else {
		libs, err := libraries.ListActive(ctx)
		if err != nil {
			log.Fatalf("failed to list libraries: %v", err)
		}
		for _, lib := range libs {
			cols, err := collections.ListByLibrary(ctx, lib.ID)
			if err != nil {
				log.Fatalf("failed to list collections for library %s: %v", lib.ID, err)
			}
			targets = append(targets, cols...)
		}
	}

	var totalFiles int
	for _, c := range targets {
		n := clearOneCollection(ctx, c, localStorage, collections, dryRun)
		totalFiles += n
	}

	if dryRun {
		fmt.Printf("[DRY-RUN] Would delete %d derivative file(s) across %d collection(s)\n", totalFiles, len(targets))
		fmt.Println("Run with --execute to actually delete.")
	} else {
		fmt.Printf("Deleted %d derivative file(s) across %d collection(s)\n", totalFiles, len(targets))
	}
}

func clearOneCollection(ctx context.Context, c *collection.Collection, strg storage.Storage, collections *postgres.CollectionRepository, dryRun bool) int {
	n := 0
	for _, t := range c.Thumbnails {
		n++
		if dryRun {
			continue
		}
		if err := strg.Delete(ctx, t.StoragePath); err != nil {
			log.Printf("failed to delete thumbnail %s: %v", t.StoragePath, err)
		}
	}
	for _, ci := range c.CacheImages {
		n++
		if dryRun {
			continue
		}
		if err := strg.Delete(ctx, ci.StoragePath); err != nil {
			log.Printf("failed to delete cache image %s: %v", ci.StoragePath, err)
		}
	}

	if !dryRun {
		if err := collections.ClearImageArrays(ctx, c.ID); err != nil {
			log.Printf("failed to clear embedded arrays for collection %s: %v", c.ID, err)
		}
	}
	return n
}

func runVerifyCollections(fix bool) {
	ctx := context.Background()
	pool := getDBPool()
	defer pool.Close()

	collections := postgres.NewCollectionRepository(pool)
	libraries := postgres.NewLibraryRepository(pool)

	libs, err := libraries.ListActive(ctx)
	if err != nil {
		log.Fatalf("failed to list libraries: %v", err)
	}

	var checked, mismatched int
	for _, lib := range libs {
		cols, err := collections.ListByLibrary(ctx, lib.ID)
		if err != nil {
			log.Fatalf("failed to list collections for library %s: %v", lib.ID, err)
		}
		for _, c := range cols {
			checked++
			want := c.RecalculatedStatistics()
			if want == c.Statistics {
				continue
			}
			mismatched++
			fmt.Printf("Mismatch in collection %s (%s): stored=%+v recalculated=%+v\n", c.ID, c.Name, c.Statistics, want)
			if fix {
				if _, err := collections.RecalculateStatistics(ctx, c.ID); err != nil {
					log.Printf("failed to fix statistics for collection %s: %v", c.ID, err)
					continue
				}
				fmt.Printf("  -> corrected\n")
			}
		}
	}

	fmt.Printf("\nChecked %d collection(s), %d mismatch(es) found\n", checked, mismatched)
}
