// Package settings aggregates per-user profile records behind the same
// dual-cache pattern the image catalog uses: a global snapshot of the whole
// table plus per-user entries derived from it, with write-through
// invalidation on updates.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/roamio/roamio/internal/cache"
	"github.com/roamio/roamio/internal/metrics"
	"github.com/roamio/roamio/internal/rowstore"
)

const (
	snapshotKey  = "settings:profiles"
	profileTable = "user_profiles"
)

// ErrEmptyPatch rejects updates that change nothing.
var ErrEmptyPatch = errors.New("settings: empty patch")

// Rows is the slice of the row-store client the service needs.
type Rows interface {
	Select(ctx context.Context, table string, query url.Values, dest any) error
	SelectOne(ctx context.Context, table string, query url.Values, dest any) error
	Patch(ctx context.Context, table string, query url.Values, payload any) error
}

// Options tunes the settings service.
type Options struct {
	// TTL bounds the global snapshot, the per-user entries derived from it,
	// and the freshness window for single-row lookups.
	TTL time.Duration
	// DefaultTTL bounds entries cached outside a snapshot publication, the
	// profiles resolved by single-row lookups.
	DefaultTTL time.Duration
	// CheckTTL bounds how long a username availability answer is memoized.
	CheckTTL time.Duration
	// CheckSize bounds the availability memo.
	CheckSize int
	// Shared is the optional valkey tier for the snapshot. Nil disables it.
	Shared *cache.Shared
	// Metrics is optional; a nil recorder drops observations.
	Metrics *metrics.Recorder
}

// Service resolves user profile records with minimal round trips to the row
// store. Read paths degrade to "no data" instead of failing; writes and
// uniqueness checks propagate their errors.
type Service struct {
	rows    Rows
	logger  *slog.Logger
	metrics *metrics.Recorder

	ttl    time.Duration
	shared *cache.Shared

	entries  *cache.Store[Profile]
	snapshot *cache.Store[cache.Envelope[Profile]]
	flight   singleflight.Group

	// gen fences snapshot publication against updates racing an in-flight
	// fetch, and lastFetch is the freshness timestamp behind Get's
	// single-row shortcut.
	genMu     sync.Mutex
	gen       uint64
	lastFetch time.Time

	checks *expirable.LRU[string, bool]
}

// NewService wires the settings aggregation layer.
func NewService(rows Rows, logger *slog.Logger, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.CheckTTL <= 0 {
		opts.CheckTTL = 5 * time.Minute
	}
	if opts.CheckSize <= 0 {
		opts.CheckSize = 512
	}
	return &Service{
		rows:     rows,
		logger:   logger.With(slog.String("agent", "settings")),
		metrics:  opts.Metrics,
		ttl:      opts.TTL,
		shared:   opts.Shared,
		entries:  cache.NewStore[Profile](opts.DefaultTTL),
		snapshot: cache.NewStore[cache.Envelope[Profile]](opts.TTL),
		checks:   expirable.NewLRU[string, bool](opts.CheckSize, nil, opts.CheckTTL),
	}
}

// Get resolves one user's profile. A nil result means the user has no
// profile or the lookup failed; read errors are logged, not surfaced.
func (s *Service) Get(ctx context.Context, userID string) *Profile {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}

	if profile, ok := s.entries.Get(userID); ok {
		s.metrics.ObserveLookup("settings", metrics.TierMemory)
		return &profile
	}

	// While the last full fetch is still fresh, an isolated miss is served
	// with a single-row query instead of re-downloading the whole table.
	if s.fresh() {
		profile, err := s.fetchOne(ctx, userID)
		if err != nil {
			if errors.Is(err, rowstore.ErrNoRows) {
				return nil
			}
			s.logger.Warn("profile lookup failed", slog.String("user_id", userID), slog.Any("error", err))
			return nil
		}
		s.metrics.ObserveLookup("settings", metrics.TierOrigin)
		s.entries.Set(userID, *profile)
		return profile
	}

	env := s.fetchAll(ctx)
	if profile, ok := env.Lookup(userID); ok {
		s.metrics.ObserveLookup("settings", metrics.TierSnapshot)
		return &profile
	}
	return nil
}

// GetBatch resolves several users in one call. It is served from the global
// snapshot; ids with no profile are simply absent from the result. No
// per-id network fetches are ever issued for a batch.
func (s *Service) GetBatch(ctx context.Context, userIDs []string) map[string]Profile {
	out := make(map[string]Profile, len(userIDs))
	env, ok := s.snapshot.Get(snapshotKey)
	if ok {
		s.metrics.ObserveLookup("settings", metrics.TierSnapshot)
	} else {
		env = s.fetchAll(ctx)
	}
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if profile, found := env.Lookup(id); found {
			out[id] = profile
		}
	}
	return out
}

// Update writes the patch to the row store, then collapses every cache tier
// for consistency: the user's entry, the global snapshot, the freshness
// timestamp, and the availability memo. Errors propagate to the caller.
func (s *Service) Update(ctx context.Context, userID string, patch Patch) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("settings: user id required")
	}
	if patch.IsZero() {
		return ErrEmptyPatch
	}

	query := url.Values{"user_id": []string{"eq." + userID}}
	if err := s.rows.Patch(ctx, profileTable, query, patch); err != nil {
		return fmt.Errorf("settings: update %s: %w", userID, err)
	}

	s.genMu.Lock()
	s.gen++
	s.lastFetch = time.Time{}
	s.genMu.Unlock()

	s.entries.Clear(userID)
	s.snapshot.Clear(snapshotKey)
	s.checks.Purge()
	if err := s.shared.Delete(ctx, snapshotKey); err != nil {
		s.logger.Warn("shared tier invalidation failed", slog.Any("error", err))
	}
	return nil
}

// CheckUsername reports whether candidate is free to use. The single match
// being excludingUserID itself (the owner re-saving their value) counts as
// available. Unlike the read paths this queries the source of truth and
// propagates errors: a failed check must never read as "available".
func (s *Service) CheckUsername(ctx context.Context, candidate, excludingUserID string) (bool, error) {
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if candidate == "" {
		return false, errors.New("settings: username required")
	}

	memoKey := candidate + "|" + excludingUserID
	if available, ok := s.checks.Get(memoKey); ok {
		return available, nil
	}

	query := url.Values{
		"select":   []string{"user_id"},
		"username": []string{"eq." + candidate},
	}
	var rows []struct {
		UserID string `json:"user_id"`
	}
	if err := s.rows.Select(ctx, profileTable, query, &rows); err != nil {
		return false, fmt.Errorf("settings: check username %q: %w", candidate, err)
	}

	available := len(rows) == 0 || (len(rows) == 1 && rows[0].UserID == excludingUserID)
	s.checks.Add(memoKey, available)
	return available, nil
}

// flightResult carries a snapshot out of the shared fetch together with
// whether its publication was refused because an update landed while the
// fetch was in flight. Refused snapshots must not be served either.
type flightResult struct {
	env   cache.Envelope[Profile]
	stale bool
}

// fetchAll returns the full-table envelope, fetching at most once no matter
// how many callers race on a cold cache. A caller handed a snapshot that an
// update overtook mid-flight goes back for a fresh one instead of serving it.
func (s *Service) fetchAll(ctx context.Context) cache.Envelope[Profile] {
	for {
		if env, ok := s.snapshot.Get(snapshotKey); ok {
			return env
		}
		v, _, _ := s.flight.Do(snapshotKey, func() (any, error) {
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

func (s *Service) buildSnapshot(ctx context.Context) (cache.Envelope[Profile], bool) {
	start := time.Now()
	s.genMu.Lock()
	gen := s.gen
	s.genMu.Unlock()

	var env cache.Envelope[Profile]
	if ok, err := s.shared.Fetch(ctx, snapshotKey, &env); err != nil {
		s.logger.Warn("shared tier lookup failed", slog.Any("error", err))
	} else if ok && len(env.Items) > 0 {
		s.metrics.ObserveLookup("settings", metrics.TierShared)
		return env, !s.publish(env, gen)
	}

	var rows []Profile
	query := url.Values{"select": []string{"*"}}
	if err := s.rows.Select(ctx, profileTable, query, &rows); err != nil {
		s.logger.Warn("profile table fetch failed", slog.Any("error", err))
		s.metrics.ObserveFetchAll("settings", "error", time.Since(start))
		// Deliberately not cached: the next read should retry the origin.
		return cache.NewEnvelope(map[string]Profile{}), false
	}

	items := make(map[string]Profile, len(rows))
	for _, row := range rows {
		if !row.valid() {
			continue
		}
		items[row.UserID] = row
	}

	env = cache.NewEnvelope(items)
	published := s.publish(env, gen)
	if published {
		if err := s.shared.Put(ctx, snapshotKey, env, s.ttl); err != nil {
			s.logger.Warn("shared tier store failed", slog.Any("error", err))
		}
		s.metrics.ObserveFetchAll("settings", "ok", time.Since(start))
	} else {
		s.metrics.ObserveFetchAll("settings", "stale", time.Since(start))
	}
	return env, !published
}

// publish installs a snapshot into the local tiers and stamps the freshness
// window, unless an update landed after the fetch began.
func (s *Service) publish(env cache.Envelope[Profile], gen uint64) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gen != gen {
		return false
	}
	s.snapshot.SetTTL(snapshotKey, env, s.ttl)
	for id, profile := range env.Items {
		s.entries.SetTTL(id, profile, s.ttl)
	}
	s.lastFetch = time.Now()
	return true
}

func (s *Service) fresh() bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return !s.lastFetch.IsZero() && time.Since(s.lastFetch) < s.ttl
}

func (s *Service) fetchOne(ctx context.Context, userID string) (*Profile, error) {
	query := url.Values{"user_id": []string{"eq." + userID}}
	var profile Profile
	if err := s.rows.SelectOne(ctx, profileTable, query, &profile); err != nil {
		return nil, err
	}
	if !profile.valid() {
		return nil, rowstore.ErrNoRows
	}
	return &profile, nil
}
