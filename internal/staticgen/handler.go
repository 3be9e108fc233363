package staticgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"finitefield.org/hanko-blog/internal/observability"
	"finitefield.org/hanko-blog/internal/post"
	"finitefield.org/hanko-blog/internal/requestctx"
	"finitefield.org/hanko-blog/internal/site"
)

// Fallback controls how slugs without a generated page are served.
type Fallback string

const (
	// FallbackBlocking generates the page during the first request.
	FallbackBlocking Fallback = "blocking"
	// FallbackTrue answers the loading page and generates in the background.
	FallbackTrue Fallback = "true"
	// FallbackFalse answers 404 for slugs that were not enumerated.
	FallbackFalse Fallback = "false"
)

// ParseFallback validates a fallback mode name.
func ParseFallback(v string) (Fallback, error) {
	switch f := Fallback(strings.ToLower(strings.TrimSpace(v))); f {
	case FallbackBlocking, FallbackTrue, FallbackFalse:
		return f, nil
	case "":
		return FallbackBlocking, nil
	default:
		return "", fmt.Errorf("staticgen: unknown fallback mode %q", v)
	}
}

// Cache header values.
const (
	CacheHeader = "X-Blog-Cache"

	cacheHit     = "hit"
	cacheMiss    = "miss"
	cachePreview = "preview"

	pageCacheControl    = "public, max-age=0, must-revalidate"
	privateCacheControl = "private, no-store"

	defaultGenerateTimeout = 30 * time.Second
)

// PreviewFunc returns the post source of a preview request, or false for regular requests.
type PreviewFunc func(r *http.Request) (PostSource, bool)

// Handler serves /post/{slug} from the Store, generating missing pages per the fallback mode.
type Handler struct {
	gen      *Generator
	store    *Store
	fallback Fallback
	preview  PreviewFunc
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	sf singleflight.Group
	wg sync.WaitGroup
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithFallback sets the fallback mode. Defaults to blocking.
func WithFallback(f Fallback) HandlerOption {
	return func(h *Handler) {
		if f != "" {
			h.fallback = f
		}
	}
}

// WithPreview renders preview requests fresh from the source fn returns. They are never stored.
func WithPreview(fn PreviewFunc) HandlerOption {
	return func(h *Handler) {
		h.preview = fn
	}
}

// WithGenerateTimeout bounds one on-demand generation.
func WithGenerateTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithHandlerLogger sets the logger used by background generation.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHandlerClock overrides the clock stamped on generated pages.
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler wires the post page handler.
func NewHandler(gen *Generator, store *Store, opts ...HandlerOption) *Handler {
	if store == nil {
		store = NewStore()
	}
	h := &Handler{
		gen:      gen,
		store:    store,
		fallback: FallbackBlocking,
		timeout:  defaultGenerateTimeout,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Store exposes the page store.
func (h *Handler) Store() *Store {
	return h.store
}

// Wait blocks until background generations finish.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if !ValidSlug(slug) {
		h.NotFound(w, r)
		return
	}

	if h.preview != nil {
		if src, ok := h.preview(r); ok {
			html, err := h.gen.PageFrom(r.Context(), src, slug)
			if err != nil {
				h.fail(w, r, slug, err)
				return
			}
			writeHTML(w, http.StatusOK, html, cachePreview, privateCacheControl)
			return
		}
	}

	if page, ok := h.store.Get(slug); ok {
		writeHTML(w, http.StatusOK, page.HTML, cacheHit, pageCacheControl)
		return
	}
	if h.store.Missing(slug) {
		h.NotFound(w, r)
		return
	}

	// Listed slugs whose page was invalidated are rebuilt inline whatever the mode.
	if h.store.Listed(slug) || h.fallback == FallbackBlocking {
		page, err := h.generate(r.Context(), slug)
		if err != nil {
			h.fail(w, r, slug, err)
			return
		}
		writeHTML(w, http.StatusOK, page.HTML, cacheMiss, pageCacheControl)
		return
	}

	switch h.fallback {
	case FallbackTrue:
		h.background(r.Context(), slug)
		h.render(w, r, h.gen.Site().LoadingPage(slug), privateCacheControl)
	default:
		h.NotFound(w, r)
	}
}

// generate renders slug once for all concurrent callers and stores the result. The work is
// detached from the caller so a disconnecting client does not abort it for the others. A
// result that an invalidation overtook is served to its callers but not stored.
func (h *Handler) generate(ctx context.Context, slug string) (Page, error) {
	gen := h.store.Generation()
	key := strconv.FormatUint(gen, 10) + "/" + slug
	v, err, _ := h.sf.Do(key, func() (any, error) {
		if page, ok := h.store.Get(slug); ok {
			return page, nil
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		defer cancel()

		html, err := h.gen.Page(ctx, slug, ModeFallback)
		if err != nil {
			if errors.Is(err, post.ErrNotFound) {
				h.store.PutMissingAt(slug, gen)
			}
			return Page{}, err
		}
		page := Page{HTML: html, GeneratedAt: h.now(), Source: SourceFallback}
		if !h.store.PutAt(slug, page, gen) {
			h.loggerFor(ctx).Debug("staticgen: page invalidated during generation", zap.String("slug", slug))
		}
		return page, nil
	})
	if err != nil {
		return Page{}, err
	}
	return v.(Page), nil
}

func (h *Handler) background(ctx context.Context, slug string) {
	logger := h.loggerFor(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.generate(ctx, slug); err != nil && !errors.Is(err, post.ErrNotFound) {
			logger.Warn("staticgen: background generation failed", zap.String("slug", slug), zap.Error(err))
		}
	}()
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, slug string, err error) {
	logger := h.loggerFor(r.Context())
	var renderErr *RenderError
	switch {
	case errors.Is(err, post.ErrNotFound):
		h.NotFound(w, r)
	case errors.As(err, &renderErr):
		logger.Error("staticgen: render failed", zap.String("slug", slug), zap.Error(err))
		h.errorPage(w, r, http.StatusInternalServerError)
	default:
		logger.Error("staticgen: content api failed", zap.String("slug", slug), zap.Error(err))
		h.errorPage(w, r, http.StatusBadGateway)
	}
}

// NotFound renders the not found page for r.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	s := h.gen.Site()
	h.render(w, r, s.NotFoundPage(requestLang(s, r), r.URL.Path), privateCacheControl)
}

func (h *Handler) errorPage(w http.ResponseWriter, r *http.Request, status int) {
	s := h.gen.Site()
	h.render(w, r, s.ErrorPage(requestLang(s, r), r.URL.Path, status), privateCacheControl)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, data site.PageData, cacheControl string) {
	status := data.Status
	if status == 0 {
		status = http.StatusOK
	}
	html, err := h.gen.Renderer().RenderBytes(data)
	if err != nil {
		h.loggerFor(r.Context()).Error("staticgen: render page", zap.String("view", string(data.View)), zap.Error(err))
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeHTML(w, status, html, "", cacheControl)
}

func (h *Handler) loggerFor(ctx context.Context) *zap.Logger {
	if logger := observability.FromContext(ctx); logger != requestctx.NoopLogger() {
		return logger
	}
	return h.logger
}

func requestLang(s site.Site, r *http.Request) string {
	if s.Bundle == nil {
		return s.Lang
	}
	return s.Bundle.Resolve(r.Header.Get("Accept-Language"))
}

func writeHTML(w http.ResponseWriter, status int, html []byte, cache, cacheControl string) {
	header := w.Header()
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", cacheControl)
	if cache != "" {
		header.Set(CacheHeader, cache)
	}
	w.WriteHeader(status)
	_, _ = w.Write(html)
}
