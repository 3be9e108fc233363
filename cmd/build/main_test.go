package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"finitefield.org/hanko-blog/internal/config"
	"finitefield.org/hanko-blog/internal/staticgen"
	"finitefield.org/hanko-blog/internal/storage"
)

func fakePrismic(t *testing.T) string {
	t.Helper()
	docs := []map[string]any{}
	for _, uid := range []string{"como-utilizar-hooks", "criando-um-app-cra-do-zero"} {
		docs = append(docs, map[string]any{
			"id":                     uid,
			"uid":                    uid,
			"type":                   "publications",
			"first_publication_date": "2021-03-25T19:25:28+0000",
			"data": map[string]any{
				"title":   "Post " + uid,
				"author":  "Joseph Oliveira",
				"banner":  map[string]any{"url": "https://images.prismic.io/" + uid + ".png"},
				"content": []any{},
			},
		})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"refs": []map[string]any{{"ref": "master-ref", "isMasterRef": true}}})
	})
	mux.HandleFunc("/api/v2/documents/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		results := []map[string]any{}
		for _, doc := range docs {
			if q == `[[at(document.type,"publications")]]` || q == `[[at(my.publications.uid,"`+doc["uid"].(string)+`")]]` {
				results = append(results, doc)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"page": 1, "total_pages": 1, "results": results})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/api/v2"
}

func testConfig(endpoint string, extra map[string]string) []config.Option {
	env := map[string]string{
		"POINTER_PRISMIC":    endpoint,
		"BLOG_TEMPLATES_DIR": "../../templates",
		"BLOG_PUBLIC_DIR":    "../../public",
		"BLOG_CONTENT_DIR":   "../../content",
		"BLOG_LOCALES_DIR":   "../../locales",
	}
	for k, v := range extra {
		env[k] = v
	}
	return []config.Option{config.WithoutSystemEnv(), config.WithEnvFile(""), config.WithEnvMap(env)}
}

func TestRunBuildsEveryPost(t *testing.T) {
	out := t.TempDir()
	err := run(context.Background(), []string{"-out", out}, io.Discard, zap.NewNop(), testConfig(fakePrismic(t), nil)...)
	require.NoError(t, err)

	m, err := staticgen.ReadManifest(out)
	require.NoError(t, err)
	require.Len(t, m.Routes, 2)
	for _, slug := range []string{"como-utilizar-hooks", "criando-um-app-cra-do-zero"} {
		raw, err := os.ReadFile(filepath.Join(out, "post", slug, "index.html"))
		require.NoError(t, err)
		require.Contains(t, string(raw), "Post "+slug)
	}
	_, err = os.Stat(filepath.Join(out, "assets", "site.css"))
	require.NoError(t, err)
}

func TestRunPublishRequiresBucket(t *testing.T) {
	err := run(context.Background(), []string{"-out", t.TempDir(), "-publish"}, io.Discard, zap.NewNop(), testConfig(fakePrismic(t), nil)...)
	require.Error(t, err)
	require.Contains(t, err.Error(), "BLOG_PUBLISH_BUCKET")
}

func TestRunRejectsMissingEndpoint(t *testing.T) {
	err := run(context.Background(), nil, io.Discard, zap.NewNop(), testConfig("", nil)...)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Prismic.Endpoint")
}

func TestRunHelp(t *testing.T) {
	err := run(context.Background(), []string{"-h"}, io.Discard, zap.NewNop())
	require.True(t, errors.Is(err, flag.ErrHelp))
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memoryStore) Upload(_ context.Context, bucket, object string, r io.Reader, _ storage.ObjectAttrs) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+object] = string(body)
	return nil
}

func (m *memoryStore) CopyObject(_ context.Context, srcBucket, srcObject, dstBucket, dstObject string, _ storage.ObjectAttrs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[dstBucket+"/"+dstObject] = m.objects[srcBucket+"/"+srcObject]
	return nil
}

func TestPublishUploadsBuild(t *testing.T) {
	out := t.TempDir()
	require.NoError(t, run(context.Background(), []string{"-out", out}, io.Discard, zap.NewNop(), testConfig(fakePrismic(t), nil)...))
	m, err := staticgen.ReadManifest(out)
	require.NoError(t, err)

	store := &memoryStore{objects: map[string]string{}}
	require.NoError(t, publish(context.Background(), store, "blog", "", out, m.BuildID, zap.NewNop()))

	page, ok := store.objects["blog/post/como-utilizar-hooks/index.html"]
	require.True(t, ok)
	require.Contains(t, page, "Post como-utilizar-hooks")
	_, ok = store.objects["blog/builds/"+m.BuildID+"/manifest.json"]
	require.True(t, ok)
	require.True(t, strings.Contains(store.objects["blog/manifest.json"], m.BuildID))
}
