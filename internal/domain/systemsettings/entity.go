// Package systemsettings holds operator-tunable defaults addressed by
// dot-notation keys (e.g. "thumbnail.width"), read once at startup and
// applied to new collections that don't override them explicitly.
package systemsettings

import (
	"strconv"
	"time"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// Well-known dot-notation keys. Unknown keys are accepted by Set (the
// store is a generic key/value bag) but Defaults only recognizes these.
const (
	KeyThumbnailWidth   = "thumbnail.width"
	KeyThumbnailHeight  = "thumbnail.height"
	KeyCacheWidth       = "cache.width"
	KeyCacheHeight      = "cache.height"
	KeyQuality          = "derivative.quality"
	KeyEnableCache      = "cache.enabled"
	KeyAutoScan         = "collection.auto_scan"
	KeyPreserveOriginal = "collection.preserve_original"
	KeyFormat           = "derivative.format"
	KeyRetentionDays    = "jobstate.retention_days"
	KeyStallTimeoutMin  = "monitor.stall_timeout_minutes"
)

// SystemSettings is a flat string-valued key/value store, one row per key,
// mirroring how the teacher's configuration layer favors many small typed
// getters over a single nested document.
type SystemSettings struct {
	values map[string]string
}

// New constructs an empty settings store.
func New() *SystemSettings {
	return &SystemSettings{values: make(map[string]string)}
}

// FromMap constructs a settings store pre-populated from persisted rows.
func FromMap(values map[string]string) *SystemSettings {
	s := New()
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Set validates and stores a raw string value under key.
func (s *SystemSettings) Set(key, value string) error {
	if key == "" {
		return shared.NewFieldError(shared.ErrInvalidInput, "key", "key is required")
	}
	s.values[key] = value
	return nil
}

// Get returns the raw stored value for key and whether it was present.
func (s *SystemSettings) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// All returns a copy of every stored key/value pair, for persistence.
func (s *SystemSettings) All() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *SystemSettings) intOr(key string, fallback int) int {
	v, ok := s.values[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s *SystemSettings) boolOr(key string, fallback bool) bool {
	v, ok := s.values[key]
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func (s *SystemSettings) stringOr(key, fallback string) string {
	v, ok := s.values[key]
	if !ok || v == "" {
		return fallback
	}
	return v
}

// Defaults is a type-resolved view over the hardcoded fallbacks and any
// operator overrides present in the store. Named fields rather than a
// generic accessor so callers get compile-time checked access to the
// handful of keys the pipeline actually consults at collection-creation time.
type Defaults struct {
	ThumbnailWidth   int
	ThumbnailHeight  int
	CacheWidth       int
	CacheHeight      int
	Quality          int
	EnableCache      bool
	AutoScan         bool
	PreserveOriginal bool
	Format           string
	RetentionDays    int
	StallTimeoutMin  int
}

// Resolve builds a Defaults snapshot, falling back to the pipeline's
// hardcoded defaults for any key the operator never set.
func (s *SystemSettings) Resolve() Defaults {
	return Defaults{
		ThumbnailWidth:   s.intOr(KeyThumbnailWidth, 200),
		ThumbnailHeight:  s.intOr(KeyThumbnailHeight, 200),
		CacheWidth:       s.intOr(KeyCacheWidth, 1600),
		CacheHeight:      s.intOr(KeyCacheHeight, 1600),
		Quality:          s.intOr(KeyQuality, 85),
		EnableCache:      s.boolOr(KeyEnableCache, true),
		AutoScan:         s.boolOr(KeyAutoScan, true),
		PreserveOriginal: s.boolOr(KeyPreserveOriginal, true),
		Format:           s.stringOr(KeyFormat, "webp"),
		RetentionDays:    s.intOr(KeyRetentionDays, 30),
		StallTimeoutMin:  s.intOr(KeyStallTimeoutMin, 15),
	}
}

// RetentionCutoff returns the timestamp before which completed job state
// rows are eligible for deletion, per the resolved retention policy.
func (d Defaults) RetentionCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -d.RetentionDays)
}

// StallCutoff returns the timestamp before which a running job with no
// progress is considered stalled.
func (d Defaults) StallCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(d.StallTimeoutMin) * time.Minute)
}
