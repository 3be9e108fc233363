package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"finitefield.org/hanko-blog/internal/app"
	"finitefield.org/hanko-blog/internal/config"
	"finitefield.org/hanko-blog/internal/staticgen"
)

type fakePrismic struct {
	searches atomic.Int32
	mu       sync.Mutex
	refs     []string
	master   string
	titles   map[string]string
}

func newFakePrismic() *fakePrismic {
	return &fakePrismic{master: "master-ref", titles: map[string]string{}}
}

// publish moves the master ref to ref, under which the post carries title.
func (f *fakePrismic) publish(ref, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.master = ref
	f.titles[ref] = title
}

func (f *fakePrismic) document(ref string) map[string]any {
	f.mu.Lock()
	title, ok := f.titles[ref]
	f.mu.Unlock()
	if !ok {
		title = "Como utilizar Hooks"
	}
	return map[string]any{
		"id":                     "YF1",
		"uid":                    "como-utilizar-hooks",
		"type":                   "publications",
		"first_publication_date": "2021-03-25T19:25:28+0000",
		"data": map[string]any{
			"title":    title,
			"subtitle": "Pensando em sincronização",
			"author":   "Joseph Oliveira",
			"banner":   map[string]any{"url": "https://images.prismic.io/banner.png", "alt": "banner"},
			"content": []map[string]any{{
				"heading": "Proin et varius",
				"body":    []map[string]any{{"type": "paragraph", "text": "Nullam dolor sapien vulputate", "spans": []any{}}},
			}},
		},
	}
}

func (f *fakePrismic) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		master := f.master
		f.mu.Unlock()
		writeJSON(w, map[string]any{"refs": []map[string]any{{"id": "master", "ref": master, "isMasterRef": true}}})
	})
	mux.HandleFunc("/api/v2/documents/search", func(w http.ResponseWriter, r *http.Request) {
		f.searches.Add(1)
		ref := r.URL.Query().Get("ref")
		f.mu.Lock()
		f.refs = append(f.refs, ref)
		f.mu.Unlock()

		results := []any{}
		switch r.URL.Query().Get("q") {
		case `[[at(document.type,"publications")]]`, `[[at(my.publications.uid,"como-utilizar-hooks")]]`:
			results = append(results, f.document(ref))
		}
		writeJSON(w, map[string]any{
			"page":               1,
			"results_per_page":   len(results),
			"results_size":       len(results),
			"total_results_size": len(results),
			"total_pages":        1,
			"results":            results,
		})
	})
	return mux
}

func (f *fakePrismic) lastRef() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.refs) == 0 {
		return ""
	}
	return f.refs[len(f.refs)-1]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type testServer struct {
	router http.Handler
	api    *fakePrismic
	store  *staticgen.Store
}

func newTestServer(t *testing.T, extra map[string]string) *testServer {
	t.Helper()
	api := newFakePrismic()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	env := map[string]string{
		"POINTER_PRISMIC":        srv.URL + "/api/v2",
		"PRISMIC_WEBHOOK_SECRET": "s3cret",
		"BLOG_TEMPLATES_DIR":     "../../templates",
		"BLOG_PUBLIC_DIR":        "../../public",
		"BLOG_CONTENT_DIR":       "../../content",
		"BLOG_LOCALES_DIR":       "../../locales",
		"BLOG_STATIC_DIR":        t.TempDir(),
		"BLOG_SITE_URL":          "https://blog.example.com",
	}
	for k, v := range extra {
		env[k] = v
	}
	cfg, err := config.Load(context.Background(), config.WithoutSystemEnv(), config.WithEnvFile(""), config.WithEnvMap(env))
	require.NoError(t, err)

	logger := zap.NewNop()
	blog, err := app.New(cfg, logger)
	require.NoError(t, err)

	fallback, err := staticgen.ParseFallback(cfg.Site.Fallback)
	require.NoError(t, err)
	store := staticgen.NewStore(staticgen.WithMissingLimit(cfg.Site.MissingLimit, cfg.Site.MissingTTL))
	seedStore(context.Background(), blog, store, fallback, logger)

	pages := staticgen.NewHandler(blog.Generator, store, staticgen.WithFallback(fallback), staticgen.WithPreview(blog.Preview()))
	revalidate := staticgen.NewRevalidateHandler(cfg.Prismic.WebhookSecret, logger,
		blog.Prismic, staticgen.InvalidatorFunc(blog.Blocks.Invalidate), store)
	return &testServer{router: newRouter(logger, cfg, pages, revalidate), api: api, store: store}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthzOK(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestPostPageRendersAndCaches(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/post/como-utilizar-hooks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "miss", rec.Header().Get(staticgen.CacheHeader))

	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	require.Equal(t, "Como utilizar Hooks", doc.Find(".post h1").Text())
	require.Equal(t, "25 mar 2021", doc.Find(".post-info time").Text())
	require.Equal(t, "Joseph Oliveira", doc.Find(".post-info .author").Text())
	require.Equal(t, "1 min", doc.Find(".post-info .reading-time").Text())
	require.Equal(t, "https://images.prismic.io/banner.png", doc.Find("img.banner").AttrOr("src", ""))
	require.Equal(t, 1, doc.Find("aside").Length())

	searches := s.api.searches.Load()
	rec = s.do(httptest.NewRequest(http.MethodGet, "/post/como-utilizar-hooks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hit", rec.Header().Get(staticgen.CacheHeader))
	require.Equal(t, searches, s.api.searches.Load())
}

func TestUnknownPostIsNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/post/nao-existe", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Post não encontrado")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFallbackFalseListsPostsFromAPI(t *testing.T) {
	s := newTestServer(t, map[string]string{"BLOG_FALLBACK": "false"})
	require.True(t, s.store.Listed("como-utilizar-hooks"))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/post/como-utilizar-hooks", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	searches := s.api.searches.Load()
	rec = s.do(httptest.NewRequest(http.MethodGet, "/post/outro", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, searches, s.api.searches.Load())
}

func TestPreviewCookieUsesPreviewRef(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/post/como-utilizar-hooks", nil)
	req.AddCookie(&http.Cookie{Name: "io.prismic.preview", Value: "preview-ref"})

	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "preview", rec.Header().Get(staticgen.CacheHeader))
	require.Equal(t, "preview-ref", s.api.lastRef())
	require.Zero(t, s.store.Len())
}

func TestRevalidateWebhook(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, s.do(httptest.NewRequest(http.MethodGet, "/post/como-utilizar-hooks", nil)).Code)
	require.Equal(t, 1, s.store.Len())

	bad := httptest.NewRequest(http.MethodPost, "/api/revalidate", strings.NewReader(`{"type":"api-update","secret":"wrong"}`))
	require.Equal(t, http.StatusUnauthorized, s.do(bad).Code)
	require.Equal(t, 1, s.store.Len())

	good := httptest.NewRequest(http.MethodPost, "/api/revalidate", strings.NewReader(`{"type":"api-update","secret":"s3cret"}`))
	rec := s.do(good)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, s.store.Len())

	rec = s.do(httptest.NewRequest(http.MethodGet, "/post/como-utilizar-hooks", nil))
	require.Equal(t, "miss", rec.Header().Get(staticgen.CacheHeader))
}

func postTitle(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	return doc.Find(".post h1").Text()
}

func TestRevalidateServesPublishedContent(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
	}{
		{"announced ref", `{"type":"api-update","secret":"s3cret","masterRef":"ref-v2"}`},
		{"no ref in payload", `{"type":"api-update","secret":"s3cret"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec := s.do(httptest.NewRequest(http.MethodGet, "/post/como-utilizar-hooks", nil))
			require.Equal(t, "Como utilizar Hooks", postTitle(t, rec))

			s.api.publish("ref-v2", "Hooks revisado")
			rec = s.do(httptest.NewRequest(http.MethodPost, "/api/revalidate", strings.NewReader(tc.body)))
			require.Equal(t, http.StatusOK, rec.Code)

			rec = s.do(httptest.NewRequest(http.MethodGet, "/post/como-utilizar-hooks", nil))
			require.Equal(t, "miss", rec.Header().Get(staticgen.CacheHeader))
			require.Equal(t, "Hooks revisado", postTitle(t, rec))
			require.Equal(t, "ref-v2", s.api.lastRef())
		})
	}
}

func TestUnknownSlugsAreBounded(t *testing.T) {
	s := newTestServer(t, map[string]string{"BLOG_MISSING_LIMIT": "3"})
	for i := 0; i < 10; i++ {
		rec := s.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/post/nao-existe-%d", i), nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	require.Equal(t, 3, s.store.MissingLen())

	searches := s.api.searches.Load()
	require.Equal(t, http.StatusNotFound, s.do(httptest.NewRequest(http.MethodGet, "/post/nao-existe-9", nil)).Code)
	require.Equal(t, searches, s.api.searches.Load())
}

func TestAssetsServed(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/assets/site.css", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("ETag"))
	require.Contains(t, rec.Header().Get("Cache-Control"), "max-age=604800")
}
