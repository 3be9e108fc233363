package staticgen

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Page is a generated HTML document held by the Store.
type Page struct {
	HTML        []byte
	GeneratedAt time.Time
	Source      string
}

// Page sources reported in the X-Blog-Cache header.
const (
	SourceBuild    = "build"
	SourceFallback = "fallback"
)

// Default bounds of the not-found set.
const (
	DefaultMissingLimit = 4096
	DefaultMissingTTL   = 10 * time.Minute
)

// Store keeps generated pages in memory. Listed slugs are the ones known at build time;
// missing slugs are remembered not-found answers, bounded in number and age. Every
// invalidation bumps the generation so work started before it cannot store its result.
type Store struct {
	mu      sync.RWMutex
	pages   map[string]Page
	listed  map[string]struct{}
	missing *expirable.LRU[string, struct{}]
	gen     uint64
}

// StoreOption customises a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	missingLimit int
	missingTTL   time.Duration
}

// WithMissingLimit bounds the not-found set to limit slugs, each kept for at most ttl.
func WithMissingLimit(limit int, ttl time.Duration) StoreOption {
	return func(o *storeOptions) {
		if limit > 0 {
			o.missingLimit = limit
		}
		if ttl > 0 {
			o.missingTTL = ttl
		}
	}
}

// NewStore returns an empty Store.
func NewStore(opts ...StoreOption) *Store {
	o := storeOptions{missingLimit: DefaultMissingLimit, missingTTL: DefaultMissingTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		pages:   map[string]Page{},
		listed:  map[string]struct{}{},
		missing: expirable.NewLRU[string, struct{}](o.missingLimit, nil, o.missingTTL),
	}
}

// Get returns the page of slug.
func (s *Store) Get(slug string) (Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[slug]
	return p, ok
}

// Generation returns the current invalidation generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Put stores the page of slug and clears any missing mark.
func (s *Store) Put(slug string, p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[slug] = p
	s.missing.Remove(slug)
}

// PutAt stores the page of slug only if no invalidation happened since gen.
func (s *Store) PutAt(slug string, p Page, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.pages[slug] = p
	s.missing.Remove(slug)
	return true
}

// MarkListed records slugs as enumerated paths.
func (s *Store) MarkListed(slugs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slug := range slugs {
		s.listed[slug] = struct{}{}
	}
}

// Listed reports whether slug was enumerated.
func (s *Store) Listed(slug string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.listed[slug]
	return ok
}

// PutMissing remembers that slug does not exist.
func (s *Store) PutMissing(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, slug)
	s.missing.Add(slug, struct{}{})
}

// PutMissingAt remembers that slug does not exist only if no invalidation happened since gen.
func (s *Store) PutMissingAt(slug string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	delete(s.pages, slug)
	s.missing.Add(slug, struct{}{})
	return true
}

// Missing reports whether slug is known not to exist.
func (s *Store) Missing(slug string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.missing.Get(slug)
	return ok
}

// MissingLen returns the number of remembered not-found slugs.
func (s *Store) MissingLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missing.Len()
}

// Invalidate drops the generated pages and missing marks of slugs. Listed slugs stay listed.
func (s *Store) Invalidate(slugs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	for _, slug := range slugs {
		delete(s.pages, slug)
		s.missing.Remove(slug)
	}
}

// InvalidateAll drops every generated page and missing mark.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.pages = map[string]Page{}
	s.missing.Purge()
}

// Len returns the number of stored pages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

// LoadDir seeds the store from a build directory: every manifest route becomes a listed slug
// with its pre-rendered page.
func (s *Store) LoadDir(dir string) (Manifest, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return Manifest{}, err
	}
	for route, rel := range m.Routes {
		slug, ok := SlugFromRoute(route)
		if !ok || !ValidSlug(slug) || rel != HTMLPath(slug) {
			return Manifest{}, fmt.Errorf("staticgen: manifest route %q -> %q is invalid", route, rel)
		}
		html, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return Manifest{}, fmt.Errorf("staticgen: read %s: %w", rel, err)
		}
		s.MarkListed(slug)
		s.Put(slug, Page{HTML: html, GeneratedAt: m.GeneratedAt, Source: SourceBuild})
	}
	return m, nil
}
