// Package staticgen pre-builds post pages and serves them with on-demand fallback generation.
package staticgen

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"finitefield.org/hanko-blog/internal/cms"
	"finitefield.org/hanko-blog/internal/post"
	"finitefield.org/hanko-blog/internal/site"
)

const instrumentationName = "finitefield.org/hanko-blog/internal/staticgen"

// Generation modes recorded on the pages counter.
const (
	ModeBuild    = "build"
	ModeFallback = "fallback"
)

// PostSource enumerates and loads posts.
type PostSource interface {
	Paths(ctx context.Context) ([]post.Path, error)
	Get(ctx context.Context, slug string) (post.Post, error)
}

// PageRenderer turns a view model into HTML.
type PageRenderer interface {
	RenderBytes(data site.PageData) ([]byte, error)
}

// AsideSource supplies the content block shown next to posts.
type AsideSource interface {
	Get(ctx context.Context, slug, lang string) (cms.Block, error)
}

// RenderError reports a page that was fetched but could not be rendered.
type RenderError struct {
	Slug string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("staticgen: render %q: %v", e.Slug, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Generator renders a single post page from its slug.
type Generator struct {
	posts     PostSource
	renderer  PageRenderer
	site      site.Site
	aside     AsideSource
	asideSlug string
	logger    *zap.Logger
	tracer    trace.Tracer
	generated metric.Int64Counter
}

// GeneratorOption customises a Generator.
type GeneratorOption func(*generatorConfig)

type generatorConfig struct {
	aside     AsideSource
	asideSlug string
	logger    *zap.Logger
	meter     metric.Meter
}

// WithAside renders the content block slug next to every post.
func WithAside(source AsideSource, slug string) GeneratorOption {
	return func(cfg *generatorConfig) {
		cfg.aside = source
		cfg.asideSlug = slug
	}
}

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(logger *zap.Logger) GeneratorOption {
	return func(cfg *generatorConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMeter injects the meter used for the pages counter.
func WithMeter(m metric.Meter) GeneratorOption {
	return func(cfg *generatorConfig) {
		cfg.meter = m
	}
}

// NewGenerator wires a Generator.
func NewGenerator(posts PostSource, renderer PageRenderer, s site.Site, opts ...GeneratorOption) (*Generator, error) {
	if posts == nil {
		return nil, errors.New("staticgen: post source is required")
	}
	if renderer == nil {
		return nil, errors.New("staticgen: renderer is required")
	}
	cfg := generatorConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	counter, err := meter.Int64Counter(
		"blog.pages.generated",
		metric.WithDescription("Post pages rendered, by generation mode"),
	)
	if err != nil {
		return nil, fmt.Errorf("staticgen: register counter: %w", err)
	}
	return &Generator{
		posts:     posts,
		renderer:  renderer,
		site:      s,
		aside:     cfg.aside,
		asideSlug: cfg.asideSlug,
		logger:    cfg.logger,
		tracer:    otel.Tracer(instrumentationName),
		generated: counter,
	}, nil
}

// Site returns the site settings used to build pages.
func (g *Generator) Site() site.Site {
	return g.site
}

// Renderer returns the page renderer.
func (g *Generator) Renderer() PageRenderer {
	return g.renderer
}

// Paths lists the posts to pre-render.
func (g *Generator) Paths(ctx context.Context) ([]post.Path, error) {
	return g.posts.Paths(ctx)
}

// Page fetches and renders the post page of slug. Errors match post.ErrNotFound for unknown
// slugs and *RenderError for template failures; anything else is an upstream failure.
func (g *Generator) Page(ctx context.Context, slug, mode string) ([]byte, error) {
	return g.page(ctx, g.posts, slug, mode)
}

// PageFrom renders slug reading from posts instead of the default source, e.g. for previews.
func (g *Generator) PageFrom(ctx context.Context, posts PostSource, slug string) ([]byte, error) {
	if posts == nil {
		posts = g.posts
	}
	return g.page(ctx, posts, slug, ModeFallback)
}

func (g *Generator) page(ctx context.Context, posts PostSource, slug, mode string) ([]byte, error) {
	ctx, span := g.tracer.Start(ctx, "staticgen.page", trace.WithAttributes(
		attribute.String("post.slug", slug),
		attribute.String("staticgen.mode", mode),
	))
	defer span.End()

	p, err := posts.Get(ctx, slug)
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, post.ErrNotFound) {
			span.SetStatus(codes.Error, "fetch post")
		}
		return nil, err
	}

	var aside *cms.Block
	if g.aside != nil && g.asideSlug != "" {
		block, err := g.aside.Get(ctx, g.asideSlug, g.site.Lang)
		switch {
		case err == nil:
			aside = &block
		case errors.Is(err, cms.ErrNotFound):
		default:
			g.logger.Warn("staticgen: aside block unavailable", zap.String("block", g.asideSlug), zap.Error(err))
		}
	}

	html, err := g.renderer.RenderBytes(g.site.PostPage(p, aside))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render")
		return nil, &RenderError{Slug: slug, Err: err}
	}
	g.generated.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	return html, nil
}
