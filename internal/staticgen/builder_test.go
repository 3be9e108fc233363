package staticgen

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestBuildWritesPagesAndManifest(t *testing.T) {
	posts := newFakePosts(
		samplePost("como-utilizar-hooks", "Como utilizar Hooks"),
		samplePost("criando-um-app-cra-do-zero", "Criando um app CRA do zero"),
	)
	assets := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(assets, "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(assets, "site.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(assets, "img", "logo.svg"), []byte("<svg/>"), 0o644))

	built := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := t.TempDir()
	b := NewBuilder(testGenerator(t, posts), WithConcurrency(2), WithAssets(assets), WithBuildClock(func() time.Time { return built }))

	m, err := b.Build(context.Background(), out)
	require.NoError(t, err)

	id, err := ulid.ParseStrict(m.BuildID)
	require.NoError(t, err)
	require.Equal(t, ulid.Timestamp(built), id.Time())
	require.Equal(t, built, m.GeneratedAt)
	require.Equal(t, map[string]string{
		"/post/como-utilizar-hooks":        "post/como-utilizar-hooks/index.html",
		"/post/criando-um-app-cra-do-zero": "post/criando-um-app-cra-do-zero/index.html",
	}, m.Routes)

	raw, err := os.ReadFile(filepath.Join(out, "post", "como-utilizar-hooks", "index.html"))
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "Como utilizar Hooks", doc.Find(".post h1").Text())

	css, err := os.ReadFile(filepath.Join(out, "assets", "site.css"))
	require.NoError(t, err)
	require.Equal(t, "body{}", string(css))
	_, err = os.Stat(filepath.Join(out, "assets", "img", "logo.svg"))
	require.NoError(t, err)

	onDisk, err := ReadManifest(out)
	require.NoError(t, err)
	require.Equal(t, m.BuildID, onDisk.BuildID)
	require.Equal(t, m.Routes, onDisk.Routes)
}

func TestBuildFailsWhenOnePostFails(t *testing.T) {
	broken := samplePost("broken", "Broken")
	broken.Data.Banner = nil
	posts := newFakePosts(samplePost("ok", "Fine"), broken)
	out := t.TempDir()

	_, err := NewBuilder(testGenerator(t, posts)).Build(context.Background(), out)
	require.Error(t, err)
	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	require.Equal(t, "broken", renderErr.Slug)

	_, err = ReadManifest(out)
	require.ErrorIs(t, err, ErrNoManifest)
}

func TestBuildRejectsUnsafeSlug(t *testing.T) {
	posts := newFakePosts(samplePost("../escape", "Escape"))
	_, err := NewBuilder(testGenerator(t, posts)).Build(context.Background(), t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a valid path segment")
}

func TestBuildWithoutPosts(t *testing.T) {
	out := t.TempDir()
	m, err := NewBuilder(testGenerator(t, newFakePosts())).Build(context.Background(), out)
	require.NoError(t, err)
	require.Empty(t, m.Routes)
	_, err = os.Stat(filepath.Join(out, ManifestFile))
	require.NoError(t, err)
}

func TestStoreLoadDirSeedsBuiltPages(t *testing.T) {
	posts := newFakePosts(samplePost("hooks", "Hooks"))
	out := t.TempDir()
	_, err := NewBuilder(testGenerator(t, posts)).Build(context.Background(), out)
	require.NoError(t, err)

	store := NewStore()
	m, err := store.LoadDir(out)
	require.NoError(t, err)
	require.Len(t, m.Routes, 1)
	require.True(t, store.Listed("hooks"))
	page, ok := store.Get("hooks")
	require.True(t, ok)
	require.Equal(t, SourceBuild, page.Source)
	require.Contains(t, string(page.HTML), "Hooks")
}

func TestStoreLoadDirRejectsForeignPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeManifest(dir, Manifest{BuildID: "x", Routes: map[string]string{"/post/a": "../secret.html"}}))
	_, err := NewStore().LoadDir(dir)
	require.Error(t, err)

	_, err = NewStore().LoadDir(t.TempDir())
	require.ErrorIs(t, err, ErrNoManifest)
}

func TestStoreInvalidation(t *testing.T) {
	s := NewStore()
	s.MarkListed("a", "b")
	s.Put("a", Page{HTML: []byte("a")})
	s.Put("b", Page{HTML: []byte("b")})
	s.PutMissing("c")
	require.Equal(t, 2, s.Len())
	require.True(t, s.Missing("c"))

	s.Invalidate("a", "c")
	_, ok := s.Get("a")
	require.False(t, ok)
	require.False(t, s.Missing("c"))
	require.True(t, s.Listed("a"))
	require.Equal(t, 1, s.Len())

	s.PutMissing("b")
	_, ok = s.Get("b")
	require.False(t, ok)
	s.Put("b", Page{HTML: []byte("b")})
	require.False(t, s.Missing("b"))

	s.InvalidateAll()
	require.Zero(t, s.Len())
	require.True(t, s.Listed("b"))
}

func TestStoreGenerationGuardsLatePuts(t *testing.T) {
	s := NewStore()
	gen := s.Generation()
	require.True(t, s.PutAt("a", Page{HTML: []byte("a")}, gen))

	s.InvalidateAll()
	require.False(t, s.PutAt("a", Page{HTML: []byte("stale")}, gen))
	require.False(t, s.PutMissingAt("b", gen))
	require.Zero(t, s.Len())
	require.False(t, s.Missing("b"))

	s.Invalidate("x")
	require.Equal(t, gen+2, s.Generation())
}

func TestStoreMissingMarksExpire(t *testing.T) {
	s := NewStore(WithMissingLimit(10, 20*time.Millisecond))
	s.PutMissing("gone")
	require.True(t, s.Missing("gone"))
	require.Eventually(t, func() bool { return !s.Missing("gone") }, time.Second, 10*time.Millisecond)
}

func TestManifestHelpers(t *testing.T) {
	require.Equal(t, "/post/hooks", RoutePath("hooks"))
	require.Equal(t, "post/hooks/index.html", HTMLPath("hooks"))

	slug, ok := SlugFromRoute("/post/hooks")
	require.True(t, ok)
	require.Equal(t, "hooks", slug)
	_, ok = SlugFromRoute("/about")
	require.False(t, ok)

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "a\x00"} {
		require.False(t, ValidSlug(bad), bad)
	}
	require.True(t, ValidSlug("como-utilizar-hooks"))
}
