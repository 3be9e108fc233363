package cms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a content block cannot be located.
var ErrNotFound = errors.New("cms: not found")

// Block is a localized markdown fragment rendered next to posts, e.g. the sidebar note.
type Block struct {
	Slug      string
	Lang      string
	Title     string
	Summary   string
	HTML      template.HTML
	UpdatedAt time.Time
}

type blockFrontMatter struct {
	Title     string `yaml:"title"`
	Summary   string `yaml:"summary"`
	Lang      string `yaml:"lang"`
	UpdatedAt string `yaml:"updated_at"`
}

const (
	defaultContentDir = "content"
	blocksDir         = "blocks"
	defaultCacheTTL   = 5 * time.Minute
	summaryLimit      = 160
)

// Store loads content blocks from <dir>/blocks and caches the rendered result.
type Store struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	md     goldmark.Markdown
	policy *bluemonday.Policy

	mu    sync.RWMutex
	items map[string]cacheEntry
}

type cacheEntry struct {
	block   Block
	expires time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithCacheTTL overrides how long rendered blocks are kept in memory.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore builds a Store rooted at dir ("content" when empty).
func NewStore(dir string, opts ...Option) *Store {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = defaultContentDir
	}
	s := &Store{
		dir: dir,
		ttl: defaultCacheTTL,
		now: time.Now,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		policy: newBlockPolicy(),
		items:  map[string]cacheEntry{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newBlockPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("figure", "figcaption")
	policy.AllowAttrs("class").OnElements("figure", "figcaption", "p", "span")
	policy.AllowAttrs("loading").OnElements("img")
	policy.RequireNoFollowOnLinks(true)
	return policy
}

// Dir returns the content root.
func (s *Store) Dir() string {
	return s.dir
}

// Get returns the block for slug, preferring the lang variant and falling back to the
// language-neutral file.
func (s *Store) Get(ctx context.Context, slug, lang string) (Block, error) {
	if err := ctx.Err(); err != nil {
		return Block{}, err
	}
	slug = sanitizeSlug(slug)
	if slug == "" {
		return Block{}, ErrNotFound
	}
	lang = normalizeLang(lang)

	key := lang + "|" + slug
	if block, ok := s.cached(key); ok {
		return block, nil
	}

	candidates := []string{filepath.Join(s.dir, blocksDir, slug+".md")}
	if lang != "" {
		candidates = append([]string{filepath.Join(s.dir, blocksDir, lang, slug+".md")}, candidates...)
	}
	for _, file := range candidates {
		block, err := s.readBlock(file, slug, lang)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Block{}, err
		}
		s.store(key, block)
		return block, nil
	}
	return Block{}, ErrNotFound
}

// Invalidate drops every cached block.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.items = map[string]cacheEntry{}
	s.mu.Unlock()
}

func (s *Store) readBlock(file, slug, lang string) (Block, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Block{}, ErrNotFound
		}
		return Block{}, fmt.Errorf("cms: read %s: %w", file, err)
	}

	fm, body := splitFrontMatter(string(data))
	front := blockFrontMatter{}
	if strings.TrimSpace(fm) != "" {
		if err := yaml.Unmarshal([]byte(fm), &front); err != nil {
			return Block{}, fmt.Errorf("cms: parse front matter %s: %w", file, err)
		}
	}

	var buf bytes.Buffer
	if err := s.md.Convert([]byte(body), &buf); err != nil {
		return Block{}, fmt.Errorf("cms: render %s: %w", file, err)
	}
	rendered := s.policy.SanitizeBytes(buf.Bytes())

	block := Block{
		Slug:      slug,
		Lang:      firstNonEmpty(strings.TrimSpace(front.Lang), lang),
		Title:     strings.TrimSpace(front.Title),
		Summary:   strings.TrimSpace(front.Summary),
		HTML:      template.HTML(rendered),
		UpdatedAt: parseContentDate(front.UpdatedAt),
	}
	if block.Summary == "" {
		block.Summary = summarize(rendered, summaryLimit)
	}
	if block.UpdatedAt.IsZero() {
		if info, err := os.Stat(file); err == nil {
			block.UpdatedAt = info.ModTime()
		}
	}
	if block.Title == "" {
		block.Title = prettifySlug(slug)
	}
	return block, nil
}

func (s *Store) cached(key string) (Block, bool) {
	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || s.now().After(entry.expires) {
		return Block{}, false
	}
	return entry.block, true
}

func (s *Store) store(key string, block Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = cacheEntry{block: block, expires: s.now().Add(s.ttl)}
}

func splitFrontMatter(input string) (string, string) {
	input = strings.TrimLeft(input, "\ufeff")
	lines := strings.Split(input, "\n")
	if len(lines) == 0 {
		return "", ""
	}
	if strings.TrimSpace(lines[0]) != "---" {
		return "", input
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			fm := strings.Join(lines[1:i], "\n")
			body := strings.Join(lines[i+1:], "\n")
			return fm, strings.TrimLeft(body, "\n\r")
		}
	}
	return "", input
}

func parseContentDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02",
		"2006/01/02",
		"2006-1-2",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func prettifySlug(slug string) string {
	parts := strings.Split(strings.TrimSpace(slug), "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		runes := []rune(part)
		if runes[0] >= 'a' && runes[0] <= 'z' {
			runes[0] -= 'a' - 'A'
		}
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}

func sanitizeSlug(slug string) string {
	slug = strings.TrimSpace(strings.ToLower(slug))
	slug = strings.Trim(slug, "/")
	if slug == "" {
		return ""
	}
	if strings.Contains(slug, "..") {
		return ""
	}
	if strings.ContainsAny(slug, `/\`) {
		return ""
	}
	return slug
}

func normalizeLang(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	if strings.ContainsAny(lang, `/\.`) {
		return ""
	}
	return lang
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
