// Package catalog aggregates per-country image listings from object storage
// behind a two-tier cache: a global snapshot of the whole catalog plus
// per-country entries derived from it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roamio/roamio/internal/cache"
	"github.com/roamio/roamio/internal/fallback"
	"github.com/roamio/roamio/internal/metrics"
	"github.com/roamio/roamio/internal/storage"
)

const snapshotKey = "catalog:countries"

// ErrUnsupportedType rejects uploads whose content type is not an image.
var ErrUnsupportedType = errors.New("catalog: unsupported image type")

// ErrUnknownCountry rejects uploads for countries absent from the directory.
var ErrUnknownCountry = errors.New("catalog: unknown country")

// ObjectStore is the slice of the storage client the catalog needs.
type ObjectStore interface {
	List(ctx context.Context, folder string) ([]storage.Object, error)
	PublicURL(path string) string
	Upload(ctx context.Context, path, contentType string, data []byte) error
}

// Options tunes the catalog service.
type Options struct {
	// TTL bounds both the global snapshot and the per-country entries
	// derived from it.
	TTL time.Duration
	// DefaultTTL bounds entries cached outside a snapshot publication, the
	// country-to-folder mappings uploads resolve through.
	DefaultTTL time.Duration
	// BatchSize is how many folder listings are issued concurrently.
	BatchSize int
	// BatchPause is the delay between listing batches. It exists to stay
	// under the storage API rate limit, not for correctness.
	BatchPause time.Duration
	// Shared is the optional valkey tier for the snapshot. Nil disables it.
	Shared *cache.Shared
	// Metrics is optional; a nil recorder drops observations.
	Metrics *metrics.Recorder
}

// Service resolves image URL lists for countries with minimal round trips to
// the backing store. Read paths never fail: every error degrades to the
// static fallback dataset.
type Service struct {
	store     ObjectStore
	directory Directory
	logger    *slog.Logger
	metrics   *metrics.Recorder

	ttl       time.Duration
	batchSize int
	pause     time.Duration
	shared    *cache.Shared

	entries  *cache.Store[[]string]
	folders  *cache.Store[string]
	snapshot *cache.Store[cache.Envelope[[]string]]
	flight   singleflight.Group

	// gen fences snapshot publication: an invalidation that lands while a
	// fetch is in flight bumps it, and the stale snapshot is then dropped
	// instead of overwriting the newer state.
	genMu sync.Mutex
	gen   uint64

	fallbackMu sync.RWMutex
	fallback   fallback.Table
}

// NewService wires the catalog aggregation layer.
func NewService(store ObjectStore, directory Directory, table fallback.Table, logger *slog.Logger, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.BatchPause <= 0 {
		opts.BatchPause = 100 * time.Millisecond
	}
	return &Service{
		store:     store,
		directory: directory,
		logger:    logger.With(slog.String("agent", "catalog")),
		metrics:   opts.Metrics,
		ttl:       opts.TTL,
		batchSize: opts.BatchSize,
		pause:     opts.BatchPause,
		shared:    opts.Shared,
		entries:   cache.NewStore[[]string](opts.TTL),
		folders:   cache.NewStore[string](opts.DefaultTTL),
		snapshot:  cache.NewStore[cache.Envelope[[]string]](opts.TTL),
		fallback:  table,
	}
}

// Images returns the image URLs for one country. It never fails: cache and
// snapshot misses degrade to the fallback dataset.
func (s *Service) Images(ctx context.Context, country string) []string {
	key := countryKey(country)
	if urls, ok := s.entries.Get(key); ok {
		s.metrics.ObserveLookup("catalog", metrics.TierMemory)
		return append([]string(nil), urls...)
	}

	env := s.Snapshot(ctx)
	if urls, ok := env.Lookup(key); ok {
		s.metrics.ObserveLookup("catalog", metrics.TierSnapshot)
		return append([]string(nil), urls...)
	}

	s.metrics.ObserveLookup("catalog", metrics.TierFallback)
	return s.fallbackTable().URLs(country)
}

// BatchImages resolves several countries in one call, keyed by normalized
// country name. At most one full-catalog fetch is issued regardless of how
// many requested countries miss the cache.
func (s *Service) BatchImages(ctx context.Context, countries []string) map[string][]string {
	out := make(map[string][]string, len(countries))
	missing := false
	for _, country := range countries {
		key := countryKey(country)
		if _, done := out[key]; done {
			continue
		}
		if urls, ok := s.entries.Get(key); ok {
			s.metrics.ObserveLookup("catalog", metrics.TierMemory)
			out[key] = append([]string(nil), urls...)
			continue
		}
		missing = true
	}
	if !missing {
		return out
	}

	env := s.Snapshot(ctx)
	for _, country := range countries {
		key := countryKey(country)
		if _, done := out[key]; done {
			continue
		}
		if urls, ok := env.Lookup(key); ok {
			s.metrics.ObserveLookup("catalog", metrics.TierSnapshot)
			out[key] = append([]string(nil), urls...)
			continue
		}
		s.metrics.ObserveLookup("catalog", metrics.TierFallback)
		out[key] = s.fallbackTable().URLs(country)
	}
	return out
}

// flightResult carries a snapshot out of the shared fetch together with
// whether its publication was refused because an invalidation landed while
// the fetch was in flight. Refused snapshots must not be served either.
type flightResult struct {
	env   cache.Envelope[[]string]
	stale bool
}

// Snapshot returns the full-catalog envelope, fetching it at most once no
// matter how many callers race on a cold cache. A caller handed a snapshot
// that an invalidation overtook mid-flight goes back for a fresh one instead
// of serving it.
func (s *Service) Snapshot(ctx context.Context) cache.Envelope[[]string] {
	for {
		if env, ok := s.snapshot.Get(snapshotKey); ok {
			return env
		}
		v, _, _ := s.flight.Do(snapshotKey, func() (any, error) {
			// A joiner that queued behind a just-finished fetch can serve the
			// fresh snapshot without building another one.
			if env, ok := s.snapshot.Get(snapshotKey); ok {
				return flightResult{env: env}, nil
			}
			env, stale := s.buildSnapshot(ctx)
			return flightResult{env: env, stale: stale}, nil
		})
		res := v.(flightResult)
		if !res.stale || ctx.Err() != nil {
			return res.env
		}
	}
}

// Upload validates and stores a new country image, then invalidates every
// cache tier so the next read sees it. Unlike the read paths, failures here
// are reported to the caller.
func (s *Service) Upload(ctx context.Context, country, filename, contentType string, data []byte) error {
	if !allowedImageType(contentType) {
		s.metrics.ObserveUpload("rejected")
		return fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	name := path.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == "/" {
		s.metrics.ObserveUpload("rejected")
		return errors.New("catalog: file name required")
	}
	if len(data) == 0 {
		s.metrics.ObserveUpload("rejected")
		return errors.New("catalog: empty upload")
	}

	folder, err := s.folderFor(ctx, country)
	if err != nil {
		s.metrics.ObserveUpload("error")
		return err
	}
	if err := s.store.Upload(ctx, folder+"/"+name, contentType, data); err != nil {
		s.metrics.ObserveUpload("error")
		return err
	}

	s.Invalidate(ctx, country)
	s.metrics.ObserveUpload("ok")
	return nil
}

// Invalidate drops the country's entry and the whole snapshot, forcing the
// next read to refetch. Wholesale invalidation is deliberate: writes are
// rare admin operations while reads are cache-dominated.
func (s *Service) Invalidate(ctx context.Context, country string) {
	s.genMu.Lock()
	s.gen++
	s.genMu.Unlock()

	s.entries.Clear(countryKey(country))
	s.snapshot.Clear(snapshotKey)
	if err := s.shared.Delete(ctx, snapshotKey); err != nil {
		s.logger.Warn("shared tier invalidation failed", slog.Any("error", err))
	}
}

// SetFallback swaps the fallback dataset and flushes every cache tier, since
// cached entries may embed URLs from the previous dataset.
func (s *Service) SetFallback(ctx context.Context, table fallback.Table) {
	s.fallbackMu.Lock()
	s.fallback = table
	s.fallbackMu.Unlock()

	s.genMu.Lock()
	s.gen++
	s.genMu.Unlock()

	s.entries.ClearAll()
	s.snapshot.Clear(snapshotKey)
	if err := s.shared.Delete(ctx, snapshotKey); err != nil {
		s.logger.Warn("shared tier invalidation failed", slog.Any("error", err))
	}
}

func (s *Service) buildSnapshot(ctx context.Context) (cache.Envelope[[]string], bool) {
	start := time.Now()
	s.genMu.Lock()
	gen := s.gen
	s.genMu.Unlock()

	var env cache.Envelope[[]string]
	if ok, err := s.shared.Fetch(ctx, snapshotKey, &env); err != nil {
		s.logger.Warn("shared tier lookup failed", slog.Any("error", err))
	} else if ok && len(env.Items) > 0 {
		s.metrics.ObserveLookup("catalog", metrics.TierShared)
		return env, !s.publish(env, gen)
	}

	countries, err := s.directory.Countries(ctx)
	if err != nil || len(countries) == 0 {
		if err != nil {
			s.logger.Warn("country directory unavailable, serving fallback dataset", slog.Any("error", err))
		} else {
			s.logger.Warn("country directory returned no rows, serving fallback dataset")
		}
		s.metrics.ObserveFetchAll("catalog", "fallback", time.Since(start))
		// Deliberately not cached: the next read should retry the origin.
		return cache.NewEnvelope(s.fallbackTable().All()), false
	}

	items := make(map[string][]string, len(countries))
	var itemsMu sync.Mutex
	for batchStart := 0; batchStart < len(countries); batchStart += s.batchSize {
		batchEnd := min(batchStart+s.batchSize, len(countries))
		var wg sync.WaitGroup
		for _, country := range countries[batchStart:batchEnd] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				urls := s.countryImages(ctx, country)
				itemsMu.Lock()
				items[countryKey(country.Name)] = urls
				itemsMu.Unlock()
			}()
		}
		wg.Wait()

		if batchEnd < len(countries) {
			select {
			case <-time.After(s.pause):
			case <-ctx.Done():
				// Cancelled mid-aggregation: fill the remainder from the
				// fallback dataset rather than returning a partial view.
				for _, country := range countries[batchEnd:] {
					items[countryKey(country.Name)] = s.fallbackTable().URLs(country.Name)
				}
				s.metrics.ObserveFetchAll("catalog", "partial", time.Since(start))
				return cache.NewEnvelope(items), false
			}
		}
	}

	for _, country := range countries {
		s.folders.Set(countryKey(country.Name), country.Folder)
	}

	env = cache.NewEnvelope(items)
	published := s.publish(env, gen)
	if published {
		if err := s.shared.Put(ctx, snapshotKey, env, s.ttl); err != nil {
			s.logger.Warn("shared tier store failed", slog.Any("error", err))
		}
		s.metrics.ObserveFetchAll("catalog", "ok", time.Since(start))
	} else {
		s.metrics.ObserveFetchAll("catalog", "stale", time.Since(start))
	}
	return env, !published
}

// countryImages lists one country's folder. Listing failures, empty folders,
// and non-image content all degrade to that country's fallback list; the
// aggregation as a whole never fails because of one country.
func (s *Service) countryImages(ctx context.Context, country Country) []string {
	objects, err := s.store.List(ctx, country.Folder)
	if err != nil {
		s.logger.Warn("folder listing failed, using fallback",
			slog.String("country", country.Name),
			slog.Any("error", err))
		return s.fallbackTable().URLs(country.Name)
	}

	urls := make([]string, 0, len(objects))
	for _, obj := range objects {
		if !isImageFile(obj.Name) {
			continue
		}
		urls = append(urls, s.store.PublicURL(country.Folder+"/"+obj.Name))
	}
	if len(urls) == 0 {
		return s.fallbackTable().URLs(country.Name)
	}
	return urls
}

// publish installs a snapshot into the local tiers unless an invalidation
// landed after the fetch began.
func (s *Service) publish(env cache.Envelope[[]string], gen uint64) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gen != gen {
		return false
	}
	s.snapshot.SetTTL(snapshotKey, env, s.ttl)
	for name, urls := range env.Items {
		s.entries.SetTTL(name, urls, s.ttl)
	}
	return true
}

func (s *Service) folderFor(ctx context.Context, country string) (string, error) {
	key := countryKey(country)
	if folder, ok := s.folders.Get(key); ok {
		return folder, nil
	}
	countries, err := s.directory.Countries(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range countries {
		s.folders.Set(countryKey(c.Name), c.Folder)
	}
	if folder, ok := s.folders.Get(key); ok {
		return folder, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCountry, country)
}

func (s *Service) fallbackTable() fallback.Table {
	s.fallbackMu.RLock()
	defer s.fallbackMu.RUnlock()
	return s.fallback
}

func countryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func allowedImageType(contentType string) bool {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/png", "image/webp", "image/gif", "image/avif":
		return true
	default:
		return false
	}
}

func isImageFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".avif":
		return true
	default:
		return false
	}
}
