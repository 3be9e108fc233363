package prismic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

type fakeAPI struct {
	apiCalls    atomic.Int32
	searchCalls atomic.Int32
	lastQuery   atomic.Value
	docs        []map[string]any
	status      int
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2", func(w http.ResponseWriter, r *http.Request) {
		f.apiCalls.Add(1)
		writeJSON(w, map[string]any{
			"refs": []map[string]any{
				{"id": "release", "ref": "release-ref", "isMasterRef": false},
				{"id": "master", "ref": "master-ref", "isMasterRef": true},
			},
		})
	})
	mux.HandleFunc("/api/v2/documents/search", func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls.Add(1)
		f.lastQuery.Store(r.URL.Query())
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"message":"boom"}`))
			return
		}
		q := r.URL.Query().Get("q")
		results := make([]map[string]any, 0, len(f.docs))
		for _, doc := range f.docs {
			uid, _ := doc["uid"].(string)
			if q == `[[at(my.publications.uid,"`+uid+`")]]` || q == `[[at(document.type,"publications")]]` {
				results = append(results, doc)
			}
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

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, api *fakeAPI, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	client, err := New(srv.URL+"/api/v2", opts...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return client
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New("  "); !errors.Is(err, ErrMissingEndpoint) {
		t.Fatalf("expected ErrMissingEndpoint, got %v", err)
	}
}

func TestQueryEncodesParameters(t *testing.T) {
	api := &fakeAPI{docs: []map[string]any{{"uid": "a", "type": "publications"}}}
	client := newTestClient(t, api, WithAccessToken("token"))

	resp, err := client.Query(context.Background(), []Predicate{DocumentType("publications")}, QueryOptions{
		Page:      2,
		PageSize:  50,
		Orderings: []string{"document.first_publication_date desc"},
	})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp.Results))
	}

	q := api.lastQuery.Load().(url.Values)
	if got := q.Get("ref"); got != "master-ref" {
		t.Errorf("expected master ref, got %q", got)
	}
	if got := q.Get("q"); got != `[[at(document.type,"publications")]]` {
		t.Errorf("unexpected q %q", got)
	}
	if q.Get("page") != "2" || q.Get("pageSize") != "50" {
		t.Errorf("unexpected paging %v", q)
	}
	if got := q.Get("orderings"); got != "[document.first_publication_date desc]" {
		t.Errorf("unexpected orderings %q", got)
	}
	if got := q.Get("access_token"); got != "token" {
		t.Errorf("expected access token, got %q", got)
	}
}

func TestMasterRefIsCachedForTTL(t *testing.T) {
	now := time.Date(2021, 3, 25, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{}
	client := newTestClient(t, api, WithRefTTL(time.Minute), WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		if _, err := client.Query(context.Background(), nil, DefaultQueryOptions()); err != nil {
			t.Fatalf("Query returned error: %v", err)
		}
	}
	if calls := api.apiCalls.Load(); calls != 1 {
		t.Fatalf("expected master ref fetched once, got %d", calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := client.Query(context.Background(), nil, DefaultQueryOptions()); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if calls := api.apiCalls.Load(); calls != 2 {
		t.Fatalf("expected master ref refreshed after ttl, got %d calls", calls)
	}
}

func TestInvalidateAllDropsCachedRef(t *testing.T) {
	api := &fakeAPI{}
	client := newTestClient(t, api, WithRefTTL(time.Hour))

	if _, err := client.Query(context.Background(), nil, DefaultQueryOptions()); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	client.InvalidateAll()
	if _, err := client.Query(context.Background(), nil, DefaultQueryOptions()); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if calls := api.apiCalls.Load(); calls != 2 {
		t.Fatalf("expected master ref fetched again after invalidation, got %d calls", calls)
	}
}

func TestUseMasterRefSkipsLookup(t *testing.T) {
	api := &fakeAPI{}
	client := newTestClient(t, api, WithRefTTL(time.Hour))

	client.UseMasterRef("announced-ref")
	if _, err := client.Query(context.Background(), nil, DefaultQueryOptions()); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if calls := api.apiCalls.Load(); calls != 0 {
		t.Fatalf("expected no master ref lookup, got %d calls", calls)
	}
	if got := api.lastQuery.Load().(url.Values).Get("ref"); got != "announced-ref" {
		t.Fatalf("expected announced-ref, got %q", got)
	}

	client.UseMasterRef("")
	if _, err := client.Query(context.Background(), nil, DefaultQueryOptions()); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if got := api.lastQuery.Load().(url.Values).Get("ref"); got != "master-ref" {
		t.Fatalf("expected master-ref after clearing, got %q", got)
	}
}

func TestGetByUID(t *testing.T) {
	api := &fakeAPI{docs: []map[string]any{
		{
			"uid":                    "como-utilizar-hooks",
			"type":                   "publications",
			"first_publication_date": "2021-03-15T19:25:28+0000",
			"data":                   map[string]any{"title": "Como utilizar Hooks"},
		},
	}}
	client := newTestClient(t, api)

	doc, err := client.GetByUID(context.Background(), "publications", "como-utilizar-hooks", DefaultQueryOptions())
	if err != nil {
		t.Fatalf("GetByUID returned error: %v", err)
	}
	if doc.UID != "como-utilizar-hooks" {
		t.Errorf("unexpected uid %q", doc.UID)
	}
	if doc.FirstPublicationDate == nil {
		t.Fatal("expected first publication date")
	}
	want := time.Date(2021, 3, 15, 19, 25, 28, 0, time.UTC)
	if !doc.FirstPublicationDate.Equal(want) {
		t.Errorf("expected %s, got %s", want, doc.FirstPublicationDate.Time)
	}
}

func TestGetByUIDNotFound(t *testing.T) {
	client := newTestClient(t, &fakeAPI{})

	_, err := client.GetByUID(context.Background(), "publications", "missing", DefaultQueryOptions())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIErrorIsNotNotFound(t *testing.T) {
	client := newTestClient(t, &fakeAPI{status: http.StatusServiceUnavailable})

	_, err := client.GetByUID(context.Background(), "publications", "any", DefaultQueryOptions())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("upstream failure must not be reported as not found")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Message != "boom" {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestForRequestUsesPreviewRef(t *testing.T) {
	api := &fakeAPI{}
	client := newTestClient(t, api)

	req := httptest.NewRequest(http.MethodGet, "/post/a", nil)
	req.AddCookie(&http.Cookie{Name: PreviewCookie, Value: url.QueryEscape(`{"blog.prismic.io":{"preview":"preview-ref"}}`)})

	if _, err := client.ForRequest(req).Query(context.Background(), nil, DefaultQueryOptions()); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	q := api.lastQuery.Load().(url.Values)
	if got := q.Get("ref"); got != "preview-ref" {
		t.Errorf("expected preview ref, got %q", got)
	}
	if calls := api.apiCalls.Load(); calls != 0 {
		t.Errorf("expected no master ref lookup for preview, got %d", calls)
	}

	if same := client.ForRequest(httptest.NewRequest(http.MethodGet, "/", nil)); same != client {
		t.Error("expected request without preview cookie to reuse the client")
	}
	if same := client.ForRequest(nil); same != client {
		t.Error("expected nil request to reuse the client")
	}
}

func TestPredicateRendering(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{At("document.type", "publications").String(), `[at(document.type,"publications")]`},
		{Any("document.tags", "go", "web").String(), `[any(document.tags,["go","web"])]`},
		{UIDOf("publications", `quo"te`).String(), `[at(my.publications.uid,"quo\"te")]`},
		{encodeQuery([]Predicate{DocumentType("a"), At("document.id", "x")}), `[[at(document.type,"a")][at(document.id,"x")]]`},
		{encodeQuery(nil), ""},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("got %s, want %s", tc.got, tc.want)
		}
	}
}

func TestTimestampLayouts(t *testing.T) {
	var payload struct {
		A *Timestamp `json:"a"`
		B *Timestamp `json:"b"`
		C *Timestamp `json:"c"`
	}
	raw := `{"a":"2021-03-25T19:25:28+0000","b":"2021-03-25T19:25:28Z","c":null}`
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.A == nil || payload.B == nil {
		t.Fatal("expected both timestamps decoded")
	}
	if !payload.A.Equal(payload.B.Time) {
		t.Errorf("expected equal instants, got %s and %s", payload.A.Time, payload.B.Time)
	}
	if payload.C != nil {
		t.Errorf("expected nil for null timestamp, got %v", payload.C)
	}

	var bad Timestamp
	if err := json.Unmarshal([]byte(`"25/03/2021"`), &bad); err == nil {
		t.Error("expected error for unknown layout")
	}
}
