// Package capability resolves and caches the capabilities a session holds,
// mapping portal roles to capabilities through a static policy.
package capability

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/hibah/internal/observability"
	"github.com/pitabwire/hibah/model"
)

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory cache.
type Resolver struct {
	evaluator  model.PolicyEvaluator
	ttl        time.Duration
	maxEntries int
	metrics    *observability.Metrics
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver creates a Resolver over evaluator. Entries live for ttl; when
// the cache holds maxEntries (zero for no limit) expired entries are swept
// and, if still full, the cache is cleared. metrics may be nil.
func NewResolver(evaluator model.PolicyEvaluator, ttl time.Duration, maxEntries int, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		evaluator:  evaluator,
		ttl:        ttl,
		maxEntries: maxEntries,
		metrics:    metrics,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
}

// cacheKey is the subject followed by its sorted roles, so a token carrying
// different roles never sees a stale set.
func cacheKey(sess *model.Session) string {
	roles := slices.Clone(sess.Roles)
	slices.Sort(roles)
	return sess.SubjectID + ":" + strings.Join(roles, ",")
}

// Resolve returns the capability set of the session. Results are cached for
// the configured TTL.
func (r *Resolver) Resolve(sess *model.Session) (model.CapabilitySet, error) {
	if sess == nil {
		return model.CapabilitySet{}, nil
	}
	key := cacheKey(sess)
	now := r.now()

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && now.Before(entry.expires) {
		r.mu.RUnlock()
		r.metrics.RecordCapabilityCacheHit()
		return entry.caps, nil
	}
	r.mu.RUnlock()
	r.metrics.RecordCapabilityCacheMiss()

	caps, err := r.evaluator.ResolveCapabilities(sess)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.maxEntries > 0 && len(r.cache) >= r.maxEntries {
		r.evict(now)
	}
	r.cache[key] = cacheEntry{caps: caps, expires: now.Add(r.ttl)}
	r.mu.Unlock()

	return caps, nil
}

// evict requires r.mu.
func (r *Resolver) evict(now time.Time) {
	for key, entry := range r.cache {
		if !now.Before(entry.expires) {
			delete(r.cache, key)
		}
	}
	if len(r.cache) >= r.maxEntries {
		clear(r.cache)
	}
}

// Invalidate clears cached capabilities for the given subject.
func (r *Resolver) Invalidate(subjectID string) {
	prefix := subjectID + ":"
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Reload re-reads the policy and drops every cached set. On error the old
// policy and cache stay in place.
func (r *Resolver) Reload() error {
	if err := r.evaluator.Sync(); err != nil {
		return err
	}
	r.mu.Lock()
	clear(r.cache)
	r.mu.Unlock()
	return nil
}

// Len returns the number of cached entries.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
